package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/gateway/wsgateway"
	"github.com/kandev/agentcore/internal/orchestrator"
	"github.com/kandev/agentcore/internal/queue"
	"github.com/kandev/agentcore/internal/store"
	"github.com/kandev/agentcore/internal/subscription"
)

// SetupRoutes mounts the full agent orchestration surface of spec §6.1/§6.2
// under router's prefix (the composition root mounts router at "/api").
func SetupRoutes(
	router *gin.RouterGroup,
	coordinator *orchestrator.Coordinator,
	q *queue.Queue,
	messages store.MessageStore,
	registry *subscription.Registry,
	hub *wsgateway.Hub,
	log *logger.Logger,
) {
	handler := NewHandler(coordinator, q, messages, log)
	ws := NewWebSocketHandler(coordinator, registry, hub, log)

	agents := router.Group("/agents")
	{
		agents.POST("", handler.LaunchAgent)
		agents.GET("", handler.ListAgents)
		agents.GET("/active", handler.ListActiveAgents)
		agents.GET("/queue", handler.GetQueueLength)
		agents.DELETE("/queue/:requestId", handler.CancelQueuedLaunch)
		agents.GET("/:id", handler.GetAgent)
		agents.GET("/:id/status", handler.GetAgentStatus)
		agents.GET("/:id/messages", handler.GetAgentMessages)
		agents.DELETE("/:id", handler.DeleteAgent)
		agents.DELETE("/:id/delete", handler.DeleteAgentWithResult)
	}

	router.GET("/providers", handler.GetProviders)
	router.GET("/health", handler.GetHealth)
	router.GET("/ws", ws.Serve)
}
