package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/brandguard/backend/internal/domain/audit"
	"github.com/brandguard/backend/internal/platform/envutil"
	"github.com/brandguard/backend/internal/platform/logger"
	"github.com/brandguard/backend/internal/repos"
	"github.com/brandguard/backend/internal/types"
)

// EvidenceExtractor produces the normalized multimodal evidence for a video.
type EvidenceExtractor interface {
	Extract(ctx context.Context, videoURL string) (*audit.EvidenceBundle, error)
}

// RuleRetriever fetches the policy excerpts relevant to the evidence.
type RuleRetriever interface {
	Retrieve(ctx context.Context, ev *audit.EvidenceBundle, region audit.Region) ([]audit.RuleExcerpt, error)
}

// ComplianceAnalyzer turns evidence plus rules into a structured report.
type ComplianceAnalyzer interface {
	Analyze(ctx context.Context, ev *audit.EvidenceBundle, rules []audit.RuleExcerpt, region audit.Region) (*audit.Report, error)
}

// Runner owns the audit lifecycle: it admits runs under a concurrency bound,
// drives the three pipeline stages, and applies exactly one terminal
// transition per task. Database writes mirror registry state; the registry
// stays authoritative for reads.
type Runner struct {
	log      *logger.Logger
	registry *Registry

	extractor EvidenceExtractor
	retriever RuleRetriever
	analyzer  ComplianceAnalyzer

	db       *gorm.DB
	taskRepo repos.AuditTaskRepo

	sem *semaphore.Weighted
}

func NewRunner(
	baseLog *logger.Logger,
	registry *Registry,
	extractor EvidenceExtractor,
	retriever RuleRetriever,
	analyzer ComplianceAnalyzer,
	db *gorm.DB,
	taskRepo repos.AuditTaskRepo,
) *Runner {
	maxConcurrent := int64(envutil.Int("AUDIT_MAX_CONCURRENT", 4))
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Runner{
		log:       baseLog.With("component", "AuditRunner"),
		registry:  registry,
		extractor: extractor,
		retriever: retriever,
		analyzer:  analyzer,
		db:        db,
		taskRepo:  taskRepo,
		sem:       semaphore.NewWeighted(maxConcurrent),
	}
}

// Submit registers a new PENDING task, kicks off its pipeline in the
// background, and returns immediately. The returned snapshot always shows
// PENDING regardless of how fast the run progresses afterwards.
func (r *Runner) Submit(ctx context.Context, videoURL string, region audit.Region) (audit.Task, error) {
	task := &audit.Task{
		ID:        uuid.New(),
		VideoURL:  videoURL,
		Region:    region,
		Status:    audit.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.registry.Put(task); err != nil {
		return audit.Task{}, err
	}
	snapshot := task.Clone()

	r.persistCreate(ctx, task)

	go r.run(task.ID, videoURL, region)

	return snapshot, nil
}

func (r *Runner) run(taskID uuid.UUID, videoURL string, region audit.Region) {
	ctx := context.Background()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.fail(taskID, "audit could not be scheduled", err)
		return
	}
	defer r.sem.Release(1)

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Audit pipeline panic", "task_id", taskID, "panic", rec)
			r.fail(taskID, "internal error during audit", nil)
		}
	}()

	if err := r.registry.Transition(taskID, audit.StatusProcessing, nil); err != nil {
		r.log.Warn("PROCESSING transition rejected", "task_id", taskID, "error", err)
		return
	}
	r.persistUpdate(ctx, taskID, map[string]interface{}{"status": string(audit.StatusProcessing)})

	r.log.Info("Audit started", "task_id", taskID, "region", string(region))

	ev, err := r.extractor.Extract(ctx, videoURL)
	if err != nil {
		r.log.Warn("Evidence extraction failed", "task_id", taskID, "error", err.Error())
		r.fail(taskID, publicFailureMessage(err), err)
		return
	}

	rules, err := r.retriever.Retrieve(ctx, ev, region)
	if err != nil {
		r.log.Warn("Rule retrieval failed", "task_id", taskID, "error", err.Error())
		r.fail(taskID, publicFailureMessage(err), err)
		return
	}

	report, err := r.analyzer.Analyze(ctx, ev, rules, region)
	if err != nil {
		r.log.Warn("Compliance analysis failed", "task_id", taskID, "error", err.Error())
		r.fail(taskID, publicFailureMessage(err), err)
		return
	}

	now := time.Now().UTC()
	transitionErr := r.registry.Transition(taskID, audit.StatusCompleted, func(t *audit.Task) {
		t.Report = report
		t.CompletedAt = &now
	})
	if transitionErr != nil {
		r.log.Warn("COMPLETED transition rejected", "task_id", taskID, "error", transitionErr)
		return
	}

	updates := map[string]interface{}{
		"status":       string(audit.StatusCompleted),
		"completed_at": now,
	}
	if raw, mErr := json.Marshal(report); mErr == nil {
		updates["report"] = raw
	}
	if ev != nil {
		if raw, mErr := json.Marshal(ev); mErr == nil {
			updates["evidence"] = raw
		}
	}
	r.persistUpdate(ctx, taskID, updates)

	r.log.Info("Audit completed",
		"task_id", taskID,
		"violations", len(report.Violations),
		"overall_risk", string(report.OverallRisk),
	)
}

// fail applies the terminal FAILED transition with a stable operator-facing
// message. Raw stage errors stay in logs only.
func (r *Runner) fail(taskID uuid.UUID, publicMsg string, cause error) {
	now := time.Now().UTC()
	err := r.registry.Transition(taskID, audit.StatusFailed, func(t *audit.Task) {
		t.Error = publicMsg
		t.CompletedAt = &now
	})
	if err != nil {
		r.log.Warn("FAILED transition rejected", "task_id", taskID, "error", err)
		return
	}
	if cause != nil {
		r.log.Error("Audit failed", "task_id", taskID, "public_error", publicMsg, "cause", cause.Error())
	} else {
		r.log.Error("Audit failed", "task_id", taskID, "public_error", publicMsg)
	}
	r.persistUpdate(context.Background(), taskID, map[string]interface{}{
		"status":       string(audit.StatusFailed),
		"error":        publicMsg,
		"completed_at": now,
	})
}

// publicFailureMessage maps typed pipeline errors onto fixed strings so task
// snapshots never leak URLs, prompts, or provider internals.
func publicFailureMessage(err error) string {
	var (
		dlErr      *audit.DownloadError
		idxTimeout *audit.IndexingTimeoutError
		idxErr     *audit.IndexingError
		retErr     *audit.RetrievalError
		schemaErr  *audit.SchemaValidationError
		anaErr     *audit.AnalysisError
	)
	switch {
	case errors.As(err, &dlErr):
		return "video download failed"
	case errors.As(err, &idxTimeout):
		return "video analysis timed out"
	case errors.As(err, &idxErr):
		return "video analysis failed"
	case errors.As(err, &retErr):
		return "rule retrieval failed"
	case errors.As(err, &schemaErr):
		return "analysis produced no valid report"
	case errors.As(err, &anaErr):
		return "compliance analysis failed"
	default:
		return "audit failed"
	}
}

func (r *Runner) persistCreate(ctx context.Context, task *audit.Task) {
	if r.taskRepo == nil {
		return
	}
	row := &types.AuditTask{
		ID:        task.ID,
		VideoURL:  task.VideoURL,
		Region:    string(task.Region),
		Status:    string(task.Status),
		CreatedAt: task.CreatedAt,
	}
	if _, err := r.taskRepo.Create(ctx, r.db, row); err != nil {
		r.log.Warn("Task row create failed", "task_id", task.ID, "error", err.Error())
	}
}

func (r *Runner) persistUpdate(ctx context.Context, taskID uuid.UUID, updates map[string]interface{}) {
	if r.taskRepo == nil {
		return
	}
	if err := r.taskRepo.UpdateFields(ctx, r.db, taskID, updates); err != nil {
		r.log.Warn("Task row update failed", "task_id", taskID, "error", err.Error())
	}
}
