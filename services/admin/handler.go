package admin

import (
	"net/http"
	"strconv"
	"time"

	"trafficguard/pkg/config"
	"trafficguard/pkg/errutil"
	"trafficguard/pkg/health"
	"trafficguard/services/ledger"
	"trafficguard/services/metrics"
	"trafficguard/services/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("admin.api",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

// Handler is the thin admin surface over the batch jobs and projections. No
// auth here; the gateway in front owns that.
type Handler struct {
	cfg     *config.Config
	tasks   *task.Service
	metrics *metrics.Service
	ledger  *ledger.Service
}

type HandlerParams struct {
	fx.In

	Config  *config.Config
	Tasks   *task.Service
	Metrics *metrics.Service
	Ledger  *ledger.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		cfg:     p.Config,
		tasks:   p.Tasks,
		metrics: p.Metrics,
		ledger:  p.Ledger,
	}
}

type RouteParams struct {
	fx.In

	Engine  *gin.Engine
	Handler *Handler
	Health  health.HealthService
}

func RegisterRoutes(p RouteParams) {
	p.Engine.GET("/healthz", p.Health.Liveness)
	p.Engine.GET("/readyz", p.Health.Readiness)

	v1 := p.Engine.Group("/v1")
	{
		jobs := v1.Group("/jobs")
		jobs.POST("/reconcile", p.Handler.TriggerReconcile)
		jobs.POST("/aggregate", p.Handler.TriggerAggregate)
		jobs.POST("/refresh-status", p.Handler.TriggerRefreshStatus)
		jobs.POST("/payouts/drain", p.Handler.TriggerPayoutDrain)

		v1.GET("/metrics/:creatorID", p.Handler.CreatorMetrics)
		v1.GET("/ledger/:creatorID/balance", p.Handler.CreatorBalance)
	}
}

type triggerReconcileRequest struct {
	MaxPosts int `json:"max_posts"`
}

func (h *Handler) TriggerReconcile(c *gin.Context) {
	var req triggerReconcileRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.tasks.EnqueueReconcile(c.Request.Context(), req.MaxPosts); err != nil {
		c.JSON(errutil.HTTPStatus(err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "enqueued"})
}

type triggerAggregateRequest struct {
	Date string `json:"date"` // YYYY-MM-DD, empty means today
}

func (h *Handler) TriggerAggregate(c *gin.Context) {
	var req triggerAggregateRequest
	_ = c.ShouldBindJSON(&req)

	var date time.Time
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			c.JSON(errutil.HTTPStatus(errutil.BadRequest("date must be YYYY-MM-DD", err)))
			return
		}
		date = parsed
	}

	if err := h.tasks.EnqueueAggregate(c.Request.Context(), date); err != nil {
		c.JSON(errutil.HTTPStatus(err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "enqueued"})
}

func (h *Handler) TriggerRefreshStatus(c *gin.Context) {
	if err := h.tasks.EnqueueRefreshStatus(c.Request.Context()); err != nil {
		c.JSON(errutil.HTTPStatus(err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "enqueued"})
}

type triggerDrainRequest struct {
	BatchSize int `json:"batch_size"`
}

func (h *Handler) TriggerPayoutDrain(c *gin.Context) {
	var req triggerDrainRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.tasks.EnqueuePayoutDrain(c.Request.Context(), req.BatchSize); err != nil {
		c.JSON(errutil.HTTPStatus(err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "enqueued"})
}

func (h *Handler) CreatorMetrics(c *gin.Context) {
	creatorID := c.Param("creatorID")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(errutil.HTTPStatus(errutil.BadRequest("limit must be an integer", err)))
			return
		}
		limit = parsed
	}

	rows, err := h.metrics.MetricsForCreator(c.Request.Context(), creatorID, limit)
	if err != nil {
		c.JSON(errutil.HTTPStatus(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"creator_id": creatorID, "metrics": rows})
}

func (h *Handler) CreatorBalance(c *gin.Context) {
	creatorID := c.Param("creatorID")

	balance, err := h.ledger.CreatorBalance(c.Request.Context(), creatorID, h.cfg.Fraud.PayoutHoldWindow)
	if err != nil {
		c.JSON(errutil.HTTPStatus(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"creator_id": creatorID, "balance": balance})
}
