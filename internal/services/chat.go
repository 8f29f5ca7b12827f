package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brandguard/backend/internal/domain/audit"
	"github.com/brandguard/backend/internal/jobs"
	"github.com/brandguard/backend/internal/platform/ctxutil"
	"github.com/brandguard/backend/internal/platform/envutil"
	"github.com/brandguard/backend/internal/platform/logger"
	"github.com/brandguard/backend/internal/platform/openai"
	"github.com/brandguard/backend/internal/repos"
	"github.com/brandguard/backend/internal/types"
)

// ChatService answers follow-up questions about a completed audit. It is
// grounded strictly in that task's report; tasks that are not COMPLETED are
// rejected rather than answered speculatively.
type ChatService interface {
	Chat(ctx context.Context, taskID uuid.UUID, message string) (string, error)
}

type chatService struct {
	log      *logger.Logger
	registry *jobs.Registry
	ai       openai.Client

	modelName string
	db        *gorm.DB
	taskRepo  repos.AuditTaskRepo
	callLog   repos.AICallLogRepo
}

func NewChatService(baseLog *logger.Logger, registry *jobs.Registry, ai openai.Client, db *gorm.DB, taskRepo repos.AuditTaskRepo, callLog repos.AICallLogRepo) ChatService {
	return &chatService{
		log:       baseLog.With("service", "ChatService"),
		registry:  registry,
		ai:        ai,
		modelName: envutil.String("OPENAI_MODEL", "gpt-4o"),
		db:        db,
		taskRepo:  taskRepo,
		callLog:   callLog,
	}
}

func (s *chatService) Chat(ctx context.Context, taskID uuid.UUID, message string) (string, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message required")
	}

	task, ok := s.registry.Get(taskID)
	if !ok {
		// Completed audits from before the last restart live only in the
		// database.
		if s.taskRepo != nil {
			row, err := s.taskRepo.GetByID(ctx, nil, taskID)
			if err != nil {
				s.log.Warn("Task DB read failed", "task_id", taskID.String(), "error", err.Error())
			} else if row != nil {
				task = row.ToDomain()
				ok = true
			}
		}
	}
	if !ok {
		return "", &audit.NotFoundError{TaskID: taskID.String()}
	}
	if task.Status != audit.StatusCompleted || task.Report == nil {
		return "", &audit.NotReadyError{TaskID: taskID.String(), Status: task.Status}
	}

	reportJSON, err := json.MarshalIndent(task.Report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	system := strings.Join([]string{
		"You answer questions about a completed video-advertisement compliance audit.",
		"Ground every answer in the report below. If the report does not cover the question, say so rather than guessing.",
		"Keep answers concise and reference violation categories and rule ids where relevant.",
	}, " ")

	user := fmt.Sprintf("Audit report for video %s (region %s):\n%s\n\nQuestion: %s",
		task.VideoURL, task.Region, string(reportJSON), message)

	answer, usage, err := s.ai.GenerateText(ctx, system, user)
	if err != nil {
		s.recordCall(ctx, taskID, user, "", usage, false, err)
		return "", fmt.Errorf("chat generation: %w", err)
	}

	s.recordCall(ctx, taskID, user, answer, usage, true, nil)
	return answer, nil
}

func (s *chatService) recordCall(ctx context.Context, taskID uuid.UUID, prompt, response string, usage *openai.Usage, success bool, callErr error) {
	if s.callLog == nil {
		return
	}
	tid := taskID
	row := &types.AICallLog{
		ID:       uuid.New(),
		TaskID:   &tid,
		CallType: "chat",
		Model:    s.modelName,
		Prompt:   prompt,
		Response: response,
		Success:  success,
		Usage:    marshalUsage(usage),
	}
	if callErr != nil {
		row.Error = callErr.Error()
	}
	if _, err := s.callLog.Create(ctx, s.db, []*types.AICallLog{row}); err != nil {
		s.log.Warn("AI call log write failed", "error", err.Error())
	}
}
