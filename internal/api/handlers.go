package api

import (
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ledgerlens/internal/gemini"
	"ledgerlens/internal/invoice"
	"ledgerlens/internal/storage"
	"ledgerlens/internal/vision"
	"ledgerlens/internal/worker"
)

// JobManager is the async side of the analysis surface.
type JobManager interface {
	Submit(req invoice.AnalyzeRequest) (string, error)
	Status(id string) (worker.JobStatus, bool)
}

// Handler wires HTTP routes to the analyzer, the job manager and the
// conversation store.
type Handler struct {
	analyzer          worker.Analyzing
	workers           JobManager
	client            *gemini.Client
	optimizer         *vision.Optimizer
	db                *sql.DB
	apiKey            string
	defaultUseHistory bool
	log               zerolog.Logger
}

func NewHandler(analyzer worker.Analyzing, workers JobManager, client *gemini.Client, optimizer *vision.Optimizer, db *sql.DB, apiKey string, defaultUseHistory bool, logger zerolog.Logger) *Handler {
	return &Handler{
		analyzer:          analyzer,
		workers:           workers,
		client:            client,
		optimizer:         optimizer,
		db:                db,
		apiKey:            apiKey,
		defaultUseHistory: defaultUseHistory,
		log:               logger,
	}
}

// requireAPIKey rejects requests whose X-Api-Key header does not match the
// configured service key. An empty configured key disables the check.
func (h *Handler) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.apiKey == "" {
			c.Next()
			return
		}
		provided := c.GetHeader("X-Api-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		c.Next()
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.Use(h.requireAPIKey())

	api.POST("/analyses", h.createAnalysis)
	api.GET("/analyses", h.listAnalyses)
	api.POST("/analyses/jobs", h.submitJob)
	api.GET("/analyses/jobs/:id", h.jobStatus)

	api.POST("/conversations", h.startConversation)
	api.POST("/conversations/:id/activate", h.activateConversation)
	api.GET("/conversations/current", h.currentConversation)
	api.DELETE("/conversations/current/messages", h.clearMessages)
}

type pagePayload struct {
	Number int    `json:"number"`
	Data   string `json:"data"` // base64-encoded PNG bytes
}

type analyzeRequest struct {
	Template   string            `json:"template"`
	Params     map[string]string `json:"params"`
	Pages      []pagePayload     `json:"pages"`
	UseHistory *bool             `json:"use_history"`
}

func (h *Handler) buildAnalyzeRequest(c *gin.Context) (invoice.AnalyzeRequest, bool) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return invoice.AnalyzeRequest{}, false
	}

	raw := make([][]byte, 0, len(req.Pages))
	for _, page := range req.Pages {
		decoded, err := base64.StdEncoding.DecodeString(page.Data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page data must be base64"})
			return invoice.AnalyzeRequest{}, false
		}
		raw = append(raw, decoded)
	}

	useHistory := h.defaultUseHistory
	if req.UseHistory != nil {
		useHistory = *req.UseHistory
	}
	return invoice.AnalyzeRequest{
		Template:   req.Template,
		Params:     req.Params,
		Pages:      h.optimizer.PreparePages(raw),
		UseHistory: useHistory,
	}, true
}

func (h *Handler) createAnalysis(c *gin.Context) {
	req, ok := h.buildAnalyzeRequest(c)
	if !ok {
		return
	}

	analysis, err := h.analyzer.Analyze(c.Request.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if !errors.Is(err, gemini.ErrTransport) && !errors.Is(err, gemini.ErrNoCandidates) {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if h.db != nil {
		if err := storage.SaveAnalysis(c.Request.Context(), h.db, analysis); err != nil {
			h.log.Error().Err(err).Str("analysis", analysis.ID).Msg("persist analysis failed")
		}
	}
	c.JSON(http.StatusOK, analysis)
}

func (h *Handler) listAnalyses(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusOK, gin.H{"analyses": []*invoice.Analysis{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := storage.ListAnalyses(c.Request.Context(), h.db, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = make([]*invoice.Analysis, 0)
	}
	c.JSON(http.StatusOK, gin.H{"analyses": list})
}

func (h *Handler) submitJob(c *gin.Context) {
	req, ok := h.buildAnalyzeRequest(c)
	if !ok {
		return
	}
	id, err := h.workers.Submit(req)
	if err != nil {
		if errors.Is(err, worker.ErrQueueFull) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id})
}

func (h *Handler) jobStatus(c *gin.Context) {
	status, ok := h.workers.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, status)
}

type startConversationRequest struct {
	Metadata map[string]string `json:"metadata"`
}

func (h *Handler) startConversation(c *gin.Context) {
	var req startConversationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	id := h.client.Store().StartNew(req.Metadata)
	c.JSON(http.StatusCreated, gin.H{"conversation_id": id})
}

func (h *Handler) activateConversation(c *gin.Context) {
	id := c.Param("id")
	if !h.client.Store().Switch(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found or expired"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id})
}

func (h *Handler) currentConversation(c *gin.Context) {
	conv := h.client.Store().Current()
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conv.ID,
		"message_count":   len(conv.Messages),
		"created_at":      conv.CreatedAt,
		"last_updated_at": conv.LastUpdatedAt,
		"metadata":        conv.Metadata,
	})
}

func (h *Handler) clearMessages(c *gin.Context) {
	h.client.Store().ClearCurrent()
	c.Status(http.StatusNoContent)
}
