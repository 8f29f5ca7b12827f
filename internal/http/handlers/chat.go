package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brandguard/backend/internal/http/response"
	"github.com/brandguard/backend/internal/platform/logger"
	"github.com/brandguard/backend/internal/services"
)

type ChatHandler struct {
	log *logger.Logger
	svc services.ChatService
}

func NewChatHandler(baseLog *logger.Logger, svc services.ChatService) *ChatHandler {
	return &ChatHandler{
		log: baseLog.With("handler", "ChatHandler"),
		svc: svc,
	}
}

type chatRequest struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	taskID, err := uuid.Parse(strings.TrimSpace(req.TaskID))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_task_id", fmt.Errorf("invalid task id"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		response.RespondError(c, http.StatusBadRequest, "empty_message", fmt.Errorf("message required"))
		return
	}

	answer, err := h.svc.Chat(c.Request.Context(), taskID, req.Message)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	response.RespondOK(c, gin.H{
		"task_id": taskID,
		"answer":  answer,
	})
}
