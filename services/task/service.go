package task

import (
	"context"
	"encoding/json"
	"time"

	"trafficguard/pkg/config"
	"trafficguard/services/metrics"
	"trafficguard/services/payout"
	"trafficguard/services/post"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	asynq *asynq.Client
	cfg   *config.Config

	posts    *post.Service
	metrics  *metrics.Service
	executor *payout.Executor
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Asynq  *asynq.Client
	Config *config.Config

	Posts    *post.Service
	Metrics  *metrics.Service
	Executor *payout.Executor
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		asynq: p.Asynq,
		cfg:   p.Config,

		posts:    p.Posts,
		metrics:  p.Metrics,
		executor: p.Executor,
	}
}

type reconcilePayload struct {
	MaxPosts int `json:"max_posts"`
}

type aggregatePayload struct {
	Date string `json:"date"` // YYYY-MM-DD, empty means today
}

type drainPayload struct {
	BatchSize int `json:"batch_size"`
}

// EnqueueReconcile dispatches one reconciliation run to the worker pool.
func (s *Service) EnqueueReconcile(ctx context.Context, maxPosts int) error {
	payload, _ := json.Marshal(reconcilePayload{MaxPosts: maxPosts})
	return s.enqueue(ctx, TypeReconcile, payload, "critical")
}

// EnqueueAggregate dispatches the daily aggregation for the given date.
func (s *Service) EnqueueAggregate(ctx context.Context, date time.Time) error {
	var p aggregatePayload
	if !date.IsZero() {
		p.Date = date.UTC().Format("2006-01-02")
	}
	payload, _ := json.Marshal(p)
	return s.enqueue(ctx, TypeAggregate, payload, "default")
}

// EnqueueRefreshStatus dispatches a post status refresh run.
func (s *Service) EnqueueRefreshStatus(ctx context.Context) error {
	return s.enqueue(ctx, TypeRefreshStatus, nil, "low")
}

// EnqueuePayoutDrain dispatches one payout queue drain.
func (s *Service) EnqueuePayoutDrain(ctx context.Context, batchSize int) error {
	payload, _ := json.Marshal(drainPayload{BatchSize: batchSize})
	return s.enqueue(ctx, TypePayoutDrain, payload, "critical")
}

func (s *Service) enqueue(ctx context.Context, taskType string, payload []byte, queue string) error {
	if _, err := s.asynq.EnqueueContext(ctx, asynq.NewTask(taskType, payload), asynq.Queue(queue)); err != nil {
		zap.L().Error("failed to enqueue task", zap.String("task_type", taskType), zap.Error(err))
		return err
	}

	zap.L().Info("enqueued task", zap.String("task_type", taskType), zap.String("queue", queue))
	return nil
}

// HandleReconcileTask decodes the payload and delegates to the
// reconciliation job, recording a Job row for the run.
func (s *Service) HandleReconcileTask(ctx context.Context, t *asynq.Task) error {
	var p reconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			zap.L().Error("invalid reconcile payload", zap.Error(err))
			return err
		}
	}

	return s.record(ctx, TypeReconcile, func(ctx context.Context) (interface{}, error) {
		return s.posts.RunReconciliation(ctx, p.MaxPosts)
	})
}

func (s *Service) HandleAggregateTask(ctx context.Context, t *asynq.Task) error {
	var p aggregatePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			zap.L().Error("invalid aggregate payload", zap.Error(err))
			return err
		}
	}

	var date time.Time
	if p.Date != "" {
		parsed, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			zap.L().Error("invalid aggregate date", zap.String("date", p.Date), zap.Error(err))
			return err
		}
		date = parsed
	}

	return s.record(ctx, TypeAggregate, func(ctx context.Context) (interface{}, error) {
		return s.metrics.RunAggregation(ctx, date)
	})
}

func (s *Service) HandleRefreshStatusTask(ctx context.Context, t *asynq.Task) error {
	return s.record(ctx, TypeRefreshStatus, func(ctx context.Context) (interface{}, error) {
		return s.posts.RunStatusRefresh(ctx)
	})
}

func (s *Service) HandlePayoutDrainTask(ctx context.Context, t *asynq.Task) error {
	var p drainPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			zap.L().Error("invalid drain payload", zap.Error(err))
			return err
		}
	}

	return s.record(ctx, TypePayoutDrain, func(ctx context.Context) (interface{}, error) {
		return s.executor.Drain(ctx, p.BatchSize)
	})
}

// record wraps one job run with a persisted execution record.
func (s *Service) record(ctx context.Context, taskType string, run func(ctx context.Context) (interface{}, error)) error {
	now := time.Now().UTC()
	job := Job{
		ID:        s.node.Generate().String(),
		TaskType:  taskType,
		Status:    "running",
		StartedAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		zap.L().Error("failed to create job record", zap.String("task_type", taskType), zap.Error(err))
		return err
	}

	result, runErr := run(ctx)

	done := time.Now().UTC()
	updates := map[string]interface{}{
		"completed_at": &done,
		"updated_at":   done,
	}
	if runErr != nil {
		updates["status"] = "failed"
		updates["error_msg"] = runErr.Error()
	} else {
		updates["status"] = "success"
		if result != nil {
			if encoded, err := json.Marshal(result); err == nil {
				updates["result"] = encoded
			}
		}
	}

	if err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		zap.L().Error("failed to update job record", zap.String("job_id", job.ID), zap.Error(err))
	}

	return runErr
}

// RegisterHandlers binds the task handlers onto the asynq mux.
func RegisterHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(TypeReconcile, s.HandleReconcileTask)
	mux.HandleFunc(TypeAggregate, s.HandleAggregateTask)
	mux.HandleFunc(TypeRefreshStatus, s.HandleRefreshStatusTask)
	mux.HandleFunc(TypePayoutDrain, s.HandlePayoutDrainTask)
}
