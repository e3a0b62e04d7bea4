package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zflow/zflow/internal/api/handler"
)

// Options configures the router beyond its handler dependencies
type Options struct {
	ServiceName    string
	AllowedOrigins []string
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	health := func(c *gin.Context) {
		if deps.DBClient != nil {
			if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": opts.ServiceName,
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": opts.ServiceName,
		})
	}
	r.GET("/health", health)

	if deps.Upload.Dir != "" && deps.Upload.PublicURL != "" {
		r.Static(deps.Upload.PublicURL, deps.Upload.Dir)
	}

	authHandler := handler.NewAuthHandler(deps)
	ticketHandler := handler.NewTicketHandler(deps)
	crmHandler := handler.NewCRMHandler(deps)
	uploadHandler := handler.NewUploadHandler(deps)
	socketHandler := handler.NewSocketHandler(deps)

	api := r.Group("/api")
	{
		api.GET("/health", health)

		// token may arrive as a query parameter, so the socket route authenticates itself
		api.GET("/socket", socketHandler.Connect)

		api.POST("/auth/login", authHandler.Login)
		api.POST("/auth/refresh", authHandler.Refresh)

		secured := api.Group("", AuthMiddleware(deps.Auth, deps.Logger))
		{
			secured.POST("/auth/logout", authHandler.Logout)

			tickets := secured.Group("/tickets")
			{
				tickets.GET("", ticketHandler.ListTickets)
				tickets.PATCH("/:id", ticketHandler.UpdateTicket)
				tickets.GET("/:id/messages", ticketHandler.ListMessages)
				tickets.POST("/:id/messages", ticketHandler.CreateMessage)
			}

			secured.GET("/contacts", crmHandler.ListContacts)
			secured.GET("/campaigns", crmHandler.ListCampaigns)
			secured.POST("/campaigns/:id/start", crmHandler.StartCampaign)
			secured.GET("/opportunities", crmHandler.ListOpportunities)

			notifications := secured.Group("/notifications")
			{
				notifications.GET("", crmHandler.ListNotifications)
				notifications.PATCH("/read-all", crmHandler.MarkAllNotificationsRead)
				notifications.PATCH("/:id/read", crmHandler.MarkNotificationRead)
			}

			secured.POST("/upload", uploadHandler.Upload)
		}
	}

	return r
}
