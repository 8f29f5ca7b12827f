package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/brandguard/backend/internal/domain/audit"
)

type AuditTask struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	VideoURL    string         `gorm:"column:video_url;not null" json:"video_url"`
	Region      string         `gorm:"column:region;not null;index" json:"region"`
	Status      string         `gorm:"column:status;not null;index" json:"status"` // PENDING|PROCESSING|COMPLETED|FAILED
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	Report      datatypes.JSON `gorm:"type:jsonb;column:report" json:"report,omitempty"`
	Evidence    datatypes.JSON `gorm:"type:jsonb;column:evidence" json:"evidence,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (AuditTask) TableName() string { return "audit_task" }

// ToDomain rehydrates a persisted row into a task snapshot. Rows written by
// older runs always round-trip; a corrupt report blob degrades to a task
// without one rather than failing the read.
func (t *AuditTask) ToDomain() audit.Task {
	task := audit.Task{
		ID:          t.ID,
		VideoURL:    t.VideoURL,
		Status:      audit.Status(t.Status),
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
	region, _ := audit.ParseRegion(t.Region)
	task.Region = region

	if len(t.Report) > 0 {
		var rep audit.Report
		if err := json.Unmarshal(t.Report, &rep); err == nil {
			task.Report = &rep
		}
	}
	return task
}
