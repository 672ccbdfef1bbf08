package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sms-dispatch/environments"
	"github.com/onurcolak/sms-dispatch/handlers"
	"github.com/onurcolak/sms-dispatch/internal/middlewares"
)

type Handlers struct {
	Health    *handlers.HealthHandler
	Campaign  *handlers.CampaignHandler
	Reconcile *handlers.ReconcileHandler
	Contact   *handlers.ContactHandler
	Message   *handlers.MessageHandler
	Credit    *handlers.CreditHandler
	Queue     *handlers.QueueHandler
	Scheduler *handlers.SchedulerHandler
}

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(e *echo.Echo, h Handlers, cfg *environments.Config) {
	e.GET("/health", h.Health.Health)

	// Everything under /api/v1 is an operator surface behind one key
	v1 := e.Group("/api/v1", middlewares.OpsAPIKeyAuth(cfg.Auth.OpsAPIKey))

	campaigns := v1.Group("/campaigns")
	campaigns.POST("/:id/enqueue", h.Campaign.EnqueueCampaign)
	campaigns.GET("/:id/stats", h.Campaign.GetCampaignStats)

	messages := v1.Group("/messages")
	messages.GET("/:id", h.Message.GetMessage)
	messages.GET("/provider/:providerMessageId", h.Message.GetByProviderID)

	credits := v1.Group("/credits")
	credits.GET("/:ownerId", h.Credit.GetBalance)
	credits.POST("/:ownerId/topup", h.Credit.TopUp)
	credits.POST("/:ownerId/refund", h.Credit.Refund)

	v1.POST("/reconcile", h.Reconcile.Reconcile)
	v1.POST("/contacts/import", h.Contact.ImportContacts)

	queueGroup := v1.Group("/queue")
	queueGroup.GET("/stats", h.Queue.GetQueueStats)
	queueGroup.DELETE("/jobs/:id", h.Queue.RemoveJob)

	schedulerGroup := v1.Group("/scheduler")
	schedulerGroup.POST("/start", h.Scheduler.StartScheduler)
	schedulerGroup.POST("/stop", h.Scheduler.StopScheduler)
	schedulerGroup.GET("/status", h.Scheduler.GetSchedulerStatus)
}
