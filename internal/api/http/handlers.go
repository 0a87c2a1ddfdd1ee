package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/service"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/types"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Fetcher runs one fetch. *webfetch.Pipeline satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req webfetch.Request) (*webfetch.Result, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	fetcher  Fetcher
	registry *service.Registry
	health   func() interface{}
	tracer   *tracing.Tracer
	logger   *logging.Logger
}

// NewHandlers creates a new handler set. health produces the body of
// GET /health.
func NewHandlers(fetcher Fetcher, registry *service.Registry, health func() interface{}, tracer *tracing.Tracer, logger *logging.Logger) *Handlers {
	return &Handlers{
		fetcher:  fetcher,
		registry: registry,
		health:   health,
		tracer:   tracer,
		logger:   logger,
	}
}

// Register mounts the handlers on r.
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.POST("/fetch", h.Fetch)
	r.GET("/services", h.ListServices)
	r.POST("/services/discover", h.DiscoverServices)
	r.POST("/services/execute", h.ExecuteService)
}

// Root handles the liveness check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "webfetch",
		"version": Version,
	})
}

// Health reports component state.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.health())
}

// Fetch runs the pipeline for a JSON request body and returns the fitted
// response exactly as encoded by the pipeline.
func (h *Handlers) Fetch(c *gin.Context) {
	var req webfetch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fetcherr.New(fetcherr.BadArgs, "invalid request body").With("error", err.Error()))
		return
	}

	res, err := Run(c.Request.Context(), h.tracer, h.fetcher, req)
	if err != nil {
		fe := abortWithError(c, err)
		h.logger.Info("Fetch failed",
			zap.String("url", req.URL),
			zap.String("code", string(fe.Code)),
			zap.String("trace_id", string(tracing.GetTraceID(c.Request.Context()))),
		)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", res.Body)
}

// Run executes a fetch inside a "web.fetch" span.
func Run(ctx context.Context, tracer *tracing.Tracer, fetcher Fetcher, req webfetch.Request) (*webfetch.Result, error) {
	span, ctx := tracer.StartSpan(ctx, webfetch.ToolFetch)
	span.SetTag("url", req.URL)
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

	res, err := fetcher.Fetch(ctx, req)
	if err != nil {
		fe := fetcherr.From(err)
		span.SetTag("code", string(fe.Code))
		span.SetError(fe)
		return nil, err
	}
	span.SetTag("method", res.Response.RenderingMethod)
	return res, nil
}

// ListServices lists all available services
func (h *Handlers) ListServices(c *gin.Context) {
	var category *types.Category
	if s := c.Query("category"); s != "" {
		cat := types.Category(s)
		category = &cat
	}

	c.JSON(http.StatusOK, gin.H{
		"services": h.registry.List(category),
		"stats":    h.registry.Stats(),
	})
}

// DiscoverRequest is the body of POST /services/discover.
type DiscoverRequest struct {
	Intent string `json:"intent" binding:"required"`
	Limit  int    `json:"limit"`
}

// DiscoverServices finds services matching an intent
func (h *Handlers) DiscoverServices(c *gin.Context) {
	var req DiscoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}

	c.JSON(http.StatusOK, gin.H{
		"services": h.registry.Discover(req.Intent, req.Limit),
	})
}

// ExecuteRequest is the body of POST /services/execute.
type ExecuteRequest struct {
	ToolID string                 `json:"tool_id" binding:"required"`
	Params map[string]interface{} `json:"params"`
}

// ExecuteService executes a service tool
func (h *Handlers) ExecuteService(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	appCtx := &types.Context{
		RequestID: id.NewRequestID().String(),
		TraceID:   string(tracing.GetTraceID(c.Request.Context())),
		ClientIP:  c.ClientIP(),
	}
	result, err := h.registry.Execute(c.Request.Context(), req.ToolID, req.Params, appCtx)
	if err != nil {
		c.JSON(http.StatusNotFound, result)
		return
	}

	c.Header("X-Request-ID", appCtx.RequestID)
	c.JSON(http.StatusOK, result)
}
