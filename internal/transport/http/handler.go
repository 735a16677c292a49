package http

import (
	"net/http"
	"strconv"
	"strings"

	"genledger/internal/model"
	"genledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	svc service.LedgerService
}

func NewHandler(svc service.LedgerService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	r.POST("/accounts", h.CreateAccount)
	r.GET("/accounts/:user_id/balance", h.GetBalance)
	r.GET("/accounts/:user_id/generations", h.ListJobs)

	r.GET("/pricing/quote", h.Quote)
	r.GET("/pricing/models", h.Models)

	gens := r.Group("/generations")
	gens.POST("", h.Submit)
	gens.GET("/:id", h.GetJob)
	gens.POST("/:id/start", h.MarkStarted)
	gens.POST("/:id/complete", h.MarkCompleted)
	gens.POST("/:id/fail", h.MarkFailed)
	gens.POST("/:id/cancel", h.Cancel)
}

func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (h *Handler) CreateAccount(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Grant  *int64 `json:"grant"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json")
		return
	}
	bal, err := h.svc.CreateAccount(c.Request.Context(), req.UserID, req.Grant)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bal)
}

func (h *Handler) GetBalance(c *gin.Context) {
	bal, err := h.svc.GetBalance(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h *Handler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	jobs, err := h.svc.ListJobs(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*model.GenerationJob{}
	}
	c.JSON(http.StatusOK, gin.H{"generations": jobs})
}

// Quote prices a generation. Every query parameter other than provider and model
// is treated as a pricing attribute.
func (h *Handler) Quote(c *gin.Context) {
	req := model.QuoteRequest{
		Provider: c.Query("provider"),
		Model:    c.Query("model"),
		Params:   make(map[string]string),
	}
	for k, v := range c.Request.URL.Query() {
		if k == "provider" || k == "model" || len(v) == 0 {
			continue
		}
		req.Params[k] = v[0]
	}

	quote, err := h.svc.Quote(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.svc.Models(c.Request.Context())})
}

func (h *Handler) Submit(c *gin.Context) {
	var req model.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json")
		return
	}
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	res, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *Handler) GetJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := h.svc.GetJob(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) MarkStarted(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := h.svc.MarkStarted(c.Request.Context(), id)
	respondJob(c, job, err)
}

func (h *Handler) MarkCompleted(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	var req struct {
		MediaID string `json:"media_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "media_id is required")
		return
	}
	job, err := h.svc.MarkCompleted(c.Request.Context(), id, req.MediaID)
	respondJob(c, job, err)
}

func (h *Handler) MarkFailed(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	var req struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json")
		return
	}
	job, err := h.svc.MarkFailed(c.Request.Context(), id, req.ErrorMessage)
	respondJob(c, job, err)
}

func (h *Handler) Cancel(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	// The body is optional.
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid_json")
			return
		}
	}
	job, err := h.svc.Cancel(c.Request.Context(), id, req.Reason)
	respondJob(c, job, err)
}

func respondJob(c *gin.Context, job *model.GenerationJob, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func jobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid generation id")
		return uuid.Nil, false
	}
	return id, true
}
