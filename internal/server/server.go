// Package server exposes the REST boundary: auth, market data, trading,
// funds, strategies and the client portal, plus the websocket endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/simdesk/simdesk/internal/auth"
	"github.com/simdesk/simdesk/internal/config"
	"github.com/simdesk/simdesk/internal/engine"
	"github.com/simdesk/simdesk/internal/fund"
	"github.com/simdesk/simdesk/internal/hub"
	"github.com/simdesk/simdesk/internal/matcher"
	"github.com/simdesk/simdesk/internal/repo"
	"github.com/simdesk/simdesk/internal/strategies"
	"github.com/simdesk/simdesk/pkg/logger"
)

// Deps are the long-lived services the handlers dispatch into.
type Deps struct {
	Config     *config.Config
	Log        zerolog.Logger
	Store      *repo.Store
	Engine     *engine.Engine
	Matcher    *matcher.Matcher
	Hub        *hub.Hub
	Auth       *auth.Service
	Runner     *strategies.Runner
	Backtester *strategies.Backtester
	Sandbox    *strategies.Sandbox
	Funds      *fund.Service
	News       *engine.NewsGenerator
	Portfolio  *PortfolioService
}

// Server is the HTTP boundary.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	cfg        *config.Config
	store      *repo.Store
	engine     *engine.Engine
	matcher    *matcher.Matcher
	hub        *hub.Hub
	auth       *auth.Service
	runner     *strategies.Runner
	backtester *strategies.Backtester
	sandbox    *strategies.Sandbox
	funds      *fund.Service
	news       *engine.NewsGenerator
	portfolio  *PortfolioService

	startedAt time.Time
}

// New creates the HTTP server with all routes wired.
func New(d Deps) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        logger.Component(d.Log, "server"),
		cfg:        d.Config,
		store:      d.Store,
		engine:     d.Engine,
		matcher:    d.Matcher,
		hub:        d.Hub,
		auth:       d.Auth,
		runner:     d.Runner,
		backtester: d.Backtester,
		sandbox:    d.Sandbox,
		funds:      d.Funds,
		news:       d.News,
		portfolio:  d.Portfolio,
		startedAt:  time.Now(),
	}

	s.setupMiddleware(d.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", d.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket endpoint holds connections open
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ws", s.hub.Handler)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.With(s.requireAuth).Get("/me", s.handleMe)
		})

		// Market data is readable without a session.
		r.Get("/tickers", s.handleTickers)
		r.Get("/candles/{symbol}", s.handleCandles)
		r.Get("/orderbook/{symbol}", s.handleOrderbook)
		r.Get("/news", s.handleNews)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", s.handlePlaceOrder)
				r.Get("/", s.handleOpenOrders)
				r.Delete("/{orderID}", s.handleCancelOrder)
			})
			r.Get("/positions", s.handlePositions)
			r.Get("/trades", s.handleTrades)
			r.Get("/portfolio", s.handlePortfolio)
			r.Get("/portfolio/stats", s.handlePortfolioStats)
			r.Get("/leaderboard", s.handleLeaderboard)

			r.Route("/funds", func(r chi.Router) {
				r.Get("/", s.handleListFunds)
				r.Post("/", s.handleCreateFund)

				r.Route("/{fundID}", func(r chi.Router) {
					r.Get("/", s.handleGetFund)
					r.Put("/", s.handleUpdateFund)
					r.Delete("/", s.handleDeleteFund)

					r.Get("/members", s.handleListMembers)
					r.Post("/members", s.handleAddMember)
					r.Put("/members/{userID}", s.handleUpdateMemberRole)
					r.Delete("/members/{userID}", s.handleRemoveMember)

					r.Get("/capital", s.handleListCapital)
					r.Post("/capital", s.handleCapitalEvent)
					r.Get("/nav", s.handleNav)
					r.Get("/investors", s.handleInvestors)
					r.Get("/reconciliation", s.handleReconciliation)

					r.Get("/risk", s.handleGetRisk)
					r.Put("/risk", s.handlePutRisk)
					r.Get("/risk/breaches", s.handleRiskBreaches)

					r.Get("/strategies", s.handleListStrategies)
					r.Post("/strategies", s.handleCreateStrategy)
					r.Post("/backtests", s.handleBacktestFund)
					r.Get("/activity", s.handleFundActivity)
				})
			})

			r.Route("/strategies/{strategyID}", func(r chi.Router) {
				r.Get("/", s.handleGetStrategy)
				r.Put("/", s.handleUpdateStrategy)
				r.Delete("/", s.handleDeleteStrategy)
				r.Post("/start", s.handleStartStrategy)
				r.Post("/stop", s.handleStopStrategy)
				r.Post("/backtest", s.handleRunBacktest)
				r.Get("/backtests", s.handleListBacktests)
				r.Get("/trades", s.handleStrategyTrades)
			})

			r.Route("/custom-strategies", func(r chi.Router) {
				r.Get("/", s.handleListCustom)
				r.Post("/", s.handleCreateCustom)
				r.Get("/{customID}", s.handleGetCustom)
				r.Put("/{customID}", s.handleUpdateCustom)
				r.Delete("/{customID}", s.handleDeleteCustom)
				r.Post("/{customID}/test", s.handleTestCustom)
			})

			r.Route("/client-portal", func(r chi.Router) {
				r.Get("/allocation", s.handlePortalAllocation)
				r.Get("/performance", s.handlePortalPerformance)
				r.Get("/transactions", s.handlePortalTransactions)
				r.Get("/statements", s.handlePortalStatements)
				r.Get("/fund-summary", s.handlePortalFundSummary)
				r.Get("/strategies", s.handlePortalStrategies)
			})

			r.Get("/system/health", s.handleSystemHealth)
		})
	})
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "simdesk",
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}
