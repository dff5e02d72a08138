package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/domain"
	"github.com/kandev/agentcore/internal/orchestrator"
	"github.com/kandev/agentcore/internal/queue"
	"github.com/kandev/agentcore/internal/store"
)

// Handler holds the HTTP handlers for the agent orchestration API.
type Handler struct {
	coordinator *orchestrator.Coordinator
	queue       *queue.Queue
	messages    store.MessageStore
	logger      *logger.Logger
	startedAt   time.Time
}

// NewHandler constructs a Handler bound to the running coordinator, its
// launch queue, and the message store consulted for `GET
// /agents/:id/messages`.
func NewHandler(coordinator *orchestrator.Coordinator, q *queue.Queue, messages store.MessageStore, log *logger.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		queue:       q,
		messages:    messages,
		logger:      log.WithFields(zap.String("component", "agent-api")),
		startedAt:   time.Now(),
	}
}

// LaunchAgent handles POST /agents: enqueues the request and blocks for the
// queue to process it, returning the final agent snapshot (spec §4.6 step
// 11, "return the agent to the enqueue caller").
func (h *Handler) LaunchAgent(c *gin.Context) {
	var req LaunchAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	launchReq := req.toDomain()
	requestID, err := h.coordinator.LaunchAgent(c.Request.Context(), launchReq)
	if err != nil {
		writeError(c, err)
		return
	}

	agent, err := h.coordinator.AwaitLaunch(c.Request.Context(), requestID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, LaunchAgentResponse{
		AgentID:   agent.ID,
		Status:    agent.Status,
		CreatedAt: agent.CreatedAt,
	})
}

// ListAgents handles GET /agents.
func (h *Handler) ListAgents(c *gin.Context) {
	agents, err := h.coordinator.ListAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agents)
}

// ListActiveAgents handles GET /agents/active.
func (h *Handler) ListActiveAgents(c *gin.Context) {
	agents, err := h.coordinator.ListActive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agents)
}

// GetAgent handles GET /agents/:id.
func (h *Handler) GetAgent(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		badRequest(c, "id is required")
		return
	}
	agent, err := h.coordinator.GetAgentByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// GetAgentStatus handles GET /agents/:id/status.
func (h *Handler) GetAgentStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		badRequest(c, "id is required")
		return
	}
	status, err := h.coordinator.GetAgentStatus(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AgentStatusResponse{AgentID: id, Status: status})
}

// GetAgentMessages handles GET /agents/:id/messages?since=N.
func (h *Handler) GetAgentMessages(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		badRequest(c, "id is required")
		return
	}
	if _, err := h.coordinator.GetAgentStatus(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}

	var since int64
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "since must be an integer sequence number")
			return
		}
		since = parsed
	}

	var (
		messages []*domain.AgentMessage
		err      error
	)
	if since > 0 {
		messages, err = h.messages.ListSince(c.Request.Context(), id, since)
	} else {
		messages, err = h.messages.ListByAgent(c.Request.Context(), id)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// DeleteAgent handles DELETE /agents/:id?force=true, returning 204.
func (h *Handler) DeleteAgent(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		badRequest(c, "id is required")
		return
	}
	force := c.Query("force") == "true"
	if err := h.coordinator.DeleteAgent(c.Request.Context(), id, force); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteAgentWithResult handles DELETE /agents/:id/delete?force=true,
// returning `{success}` instead of a bare 204 (spec §6.1's second delete
// route, used by callers that want a body to inspect).
func (h *Handler) DeleteAgentWithResult(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		badRequest(c, "id is required")
		return
	}
	force := c.Query("force") == "true"
	if err := h.coordinator.DeleteAgent(c.Request.Context(), id, force); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// GetQueueLength handles GET /agents/queue.
func (h *Handler) GetQueueLength(c *gin.Context) {
	c.JSON(http.StatusOK, QueueLengthResponse{QueueLength: h.queue.Len()})
}

// CancelQueuedLaunch handles DELETE /agents/queue/:requestId.
func (h *Handler) CancelQueuedLaunch(c *gin.Context) {
	requestID := c.Param("requestId")
	if requestID == "" {
		badRequest(c, "requestId is required")
		return
	}
	if err := h.queue.Cancel(requestID); err != nil {
		if err == queue.ErrNotFound {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error": apiError{Code: "not_found", Message: "launch request not found in queue"},
			})
			return
		}
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetProviders handles GET /providers.
func (h *Handler) GetProviders(c *gin.Context) {
	c.JSON(http.StatusOK, ProvidersResponse{
		TotalCount: len(domain.ProviderCatalog),
		Providers:  domain.ProviderCatalog,
	})
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(c *gin.Context) {
	active, err := h.coordinator.ListActive(c.Request.Context())
	storageOK := err == nil
	activeCount := 0
	if storageOK {
		activeCount = len(active)
	}

	status := "ok"
	if !storageOK {
		status = "degraded"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:       status,
		UptimeMillis: time.Since(h.startedAt).Milliseconds(),
		StorageOK:    storageOK,
		QueueDepth:   h.queue.Len(),
		ActiveAgents: activeCount,
		Timestamp:    time.Now(),
	})
}
