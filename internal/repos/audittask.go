package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brandguard/backend/internal/platform/logger"
	"github.com/brandguard/backend/internal/types"
)

type AuditTaskRepo interface {
	Create(ctx context.Context, tx *gorm.DB, task *types.AuditTask) (*types.AuditTask, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AuditTask, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.AuditTask, error)
}

type auditTaskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditTaskRepo(db *gorm.DB, baseLog *logger.Logger) AuditTaskRepo {
	repoLog := baseLog.With("repo", "AuditTaskRepo")
	return &auditTaskRepo{db: db, log: repoLog}
}

func (r *auditTaskRepo) Create(ctx context.Context, tx *gorm.DB, task *types.AuditTask) (*types.AuditTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if task == nil {
		return nil, errors.New("task required")
	}
	if err := transaction.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *auditTaskRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AuditTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var task types.AuditTask
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func (r *auditTaskRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.AuditTask{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *auditTaskRepo) ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.AuditTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 20
	}
	var results []*types.AuditTask
	err := transaction.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
