package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/trafficai/internal/api/auth"
	apimw "github.com/trafficai/internal/api/middleware"
	"github.com/trafficai/internal/audiences"
	"github.com/trafficai/internal/billing"
	"github.com/trafficai/internal/chat"
	"github.com/trafficai/internal/config"
	"github.com/trafficai/internal/jobqueue"
	"github.com/trafficai/internal/pixels"
	"github.com/trafficai/internal/realtime"
	"github.com/trafficai/internal/workspaces"
)

// Server represents the API server
type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	db     *sql.DB
	logger zerolog.Logger

	authLimiter   *apimw.LimiterStore
	widgetLimiter *apimw.LimiterStore
}

// NewServer creates a new API server and wires all routes.
func NewServer(cfg *config.Config, db *sql.DB, hub *realtime.Hub, jobQueue *jobqueue.JobQueue, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:   e,
		cfg:    cfg,
		db:     db,
		logger: logger.With().Str("component", "api").Logger(),

		// Auth endpoints see credential stuffing; keep the budget tight.
		authLimiter: apimw.NewLimiterStore(20, 5, 10*time.Minute),
		// Widget endpoints poll, so the budget is per pixel key and looser.
		widgetLimiter: apimw.NewLimiterStore(120, 30, 10*time.Minute),
	}

	server.setupRoutes(hub, jobQueue)

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(hub *realtime.Hub, jobQueue *jobqueue.JobQueue) {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	tokenService := auth.NewTokenService(s.db, s.cfg.Auth.JWTSecret)
	if s.cfg.Auth.AccessTokenTTLMin > 0 {
		tokenService.AccessTokenDuration = time.Duration(s.cfg.Auth.AccessTokenTTLMin) * time.Minute
	}
	if s.cfg.Auth.RefreshTokenTTLHrs > 0 {
		tokenService.RefreshTokenDuration = time.Duration(s.cfg.Auth.RefreshTokenTTLHrs) * time.Hour
	}

	authHandlers := auth.NewAuthHandlers(tokenService, s.db)
	authMW := auth.NewAuthMiddleware(tokenService, s.db)

	var botEnqueuer chat.BotReplyEnqueuer
	if jobQueue != nil {
		botEnqueuer = jobQueue
	}
	chatService := chat.NewService(
		chat.NewConversationsRepo(s.db),
		chat.NewMessagesRepo(s.db),
		chat.NewReadsRepo(s.db),
		hub,
		botEnqueuer,
		s.logger,
	)
	if jobQueue != nil {
		chatService.SetContactEnricher(jobQueue)
	}
	chatHandler := chat.NewHandler(chatService)

	pixelsHandler := pixels.NewHandler(pixels.NewRepo(s.db), s.cfg.Server.PublicBaseURL)

	audiencesClient := audiences.NewClient(s.cfg.Audiences.BaseURL, s.cfg.Audiences.APIKey, s.logger)
	audiencesHandler := audiences.NewHandler(audiencesClient, audiences.NewContactsRepo(s.db))

	billingService := billing.NewSubscriptionService(s.db, billing.NewHTTPProviderClient("", s.cfg.Billing.ProviderKey))
	billingHandler := billing.NewHandler(billingService)
	billingWebhook := billing.NewWebhookHandler(s.db, s.cfg.Billing.WebhookSecret)

	workspaceService := workspaces.NewWorkspaceService(s.db, log.Default())
	workspaceHandlers := workspaces.NewWorkspaceHandlers(workspaceService, log.Default())

	wsHandler := realtime.NewWSHandler(hub, s.logger)

	v1 := s.echo.Group("/api/v1")

	// Public auth endpoints, rate limited per client IP
	authGroup := v1.Group("/auth", apimw.RateLimit(s.authLimiter))
	authGroup.POST("/login", authHandlers.Login)
	authGroup.POST("/register", authHandlers.Register)
	authGroup.POST("/refresh", authHandlers.RefreshToken)

	// Authenticated session endpoints
	session := v1.Group("/auth", auth.RequireAuth(tokenService))
	session.GET("/me", authHandlers.Me)
	session.POST("/logout", authHandlers.Logout)

	// Workspace creation needs a user but no workspace context yet
	v1.POST("/workspaces", workspaceHandlers.CreateWorkspace, auth.RequireAuth(tokenService))

	// Billing provider webhook; authenticated by HMAC signature, not JWT
	v1.POST("/billing/webhook", billingWebhook.HandleWebhook)

	// Widget endpoints: tenant resolved from the pixel key, rate limited
	// per pixel
	widget := v1.Group("/widget",
		apimw.RateLimit(s.widgetLimiter),
		authMW.BuildWorkspaceContextFromPixelKey(),
	)
	widget.POST("/conversations", chatHandler.StartConversation)
	widget.GET("/conversations/open", chatHandler.FindOpenConversation)
	widget.GET("/conversations/:id", chatHandler.GetConversation)
	widget.GET("/conversations/:id/messages", chatHandler.GetVisibleMessages)
	widget.POST("/conversations/:id/messages", chatHandler.PostCustomerMessage)
	widget.GET("/conversations/:id/unread", chatHandler.GetUnreadCount)

	// Realtime message stream for connected widgets. The pixel key rides
	// the query string because browsers cannot set websocket headers.
	s.echo.GET("/ws/conversations/:id",
		wsHandler.Subscribe,
		authMW.BuildWorkspaceContextFromPixelKey(),
	)

	// Dashboard endpoints: JWT user + workspace membership
	dashboard := v1.Group("",
		auth.RequireAuth(tokenService),
		authMW.BuildWorkspaceContextFromHeader(),
		authMW.ValidateWorkspaceAccess(),
	)

	dashboard.GET("/conversations", chatHandler.ListConversations)
	dashboard.GET("/conversations/:id/messages", chatHandler.GetAllMessages)
	dashboard.POST("/conversations/:id/messages", chatHandler.PostAgentMessage)
	dashboard.POST("/conversations/:id/close", chatHandler.CloseConversation)
	dashboard.PUT("/conversations/:id/read", chatHandler.MarkConversationRead)
	dashboard.GET("/notifications/unread", chatHandler.GetUnreadSummary)

	dashboard.GET("/workspace", workspaceHandlers.GetWorkspace)
	dashboard.PUT("/workspace", workspaceHandlers.UpdateWorkspace, authMW.RequireRole("admin"))
	dashboard.GET("/workspace/members", workspaceHandlers.ListMembers)
	dashboard.POST("/workspace/members", workspaceHandlers.AddMember, authMW.RequireRole("admin"))
	dashboard.PUT("/workspace/members/:user_id", workspaceHandlers.UpdateMemberRole, authMW.RequireRole("admin"))
	dashboard.DELETE("/workspace/members/:user_id", workspaceHandlers.RemoveMember, authMW.RequireRole("admin"))

	dashboard.GET("/pixels", pixelsHandler.List)
	dashboard.GET("/pixels/:id", pixelsHandler.Get)
	dashboard.POST("/pixels", pixelsHandler.Create, authMW.RequireRole("admin"))
	dashboard.PUT("/pixels/:id", pixelsHandler.Update, authMW.RequireRole("admin"))
	dashboard.DELETE("/pixels/:id", pixelsHandler.Delete, authMW.RequireRole("admin"))

	// Audience data costs upstream credits, so the whole proxy surface is
	// gated on an active subscription.
	audiencesGroup := dashboard.Group("/audiences", billing.RequirePaidPlan(billingService))
	audiencesGroup.POST("/search", audiencesHandler.Search)
	audiencesGroup.GET("/credits", audiencesHandler.Credits)
	audiencesGroup.GET("/contacts", audiencesHandler.ListContacts)
	audiencesGroup.GET("/segments", audiencesHandler.ListSegments)
	audiencesGroup.GET("/segments/:id", audiencesHandler.GetSegment)
	audiencesGroup.POST("/segments", audiencesHandler.CreateSegment)
	audiencesGroup.DELETE("/segments/:id", audiencesHandler.DeleteSegment)
	audiencesGroup.POST("/enrich", s.enqueueEnrichment(jobQueue))

	dashboard.GET("/billing/subscription", billingHandler.GetSubscription)
	dashboard.POST("/billing/subscription", billingHandler.CreateSubscription, authMW.RequireRole("admin"))
	dashboard.DELETE("/billing/subscription", billingHandler.CancelSubscription, authMW.RequireRole("admin"))
}

// enqueueEnrichment schedules a background contact enrichment for an email.
func (s *Server) enqueueEnrichment(jobQueue *jobqueue.JobQueue) echo.HandlerFunc {
	return func(c echo.Context) error {
		if jobQueue == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "Background jobs are not configured")
		}

		workspaceID, ok := auth.GetWorkspaceIDFromContext(c)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "Workspace context required")
		}

		var req struct {
			Email string `json:"email"`
		}
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
		}
		if req.Email == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "Email is required")
		}

		if err := jobQueue.QueueContactEnrichJob(c.Request().Context(), workspaceID, req.Email); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to enqueue enrichment")
		}

		return c.JSON(http.StatusAccepted, map[string]string{
			"status": "queued",
		})
	}
}

// Start begins the API server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	// Start server in a goroutine
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal().Err(err).Msg("Shutting down the server")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("API server started")

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	s.authLimiter.Stop()
	s.widgetLimiter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
