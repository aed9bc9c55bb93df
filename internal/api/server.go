// Package api exposes the read-only HTTP surface: health, cached top picks,
// analytics, and the WebSocket upgrade into the stream hub.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"arise-trading-engine/config"
	"arise-trading-engine/internal/database"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/engine"
	"arise-trading-engine/internal/marketclock"
	"arise-trading-engine/internal/provider"
	"arise-trading-engine/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Engine is the top-picks surface the API serves.
type Engine interface {
	Run(ctx context.Context, universeName string, mode domain.Mode, trigger domain.Trigger) (*engine.RunResult, error)
	Latest(universeName string, mode domain.Mode) (*engine.RunResult, bool)
}

// Analytics is the repository slice behind the analytics endpoints.
type Analytics interface {
	WinningTrades(ctx context.Context, fromDate, toDate string, limit int) ([]database.WinningTrade, error)
}

// MarketInfo reports data-plane status for the health endpoint.
type MarketInfo interface {
	GetMarketStatus() provider.MarketStatus
}

// Server wires the gin router over the engine, hub and repository.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	engine     Engine
	analytics  Analytics
	market     MarketInfo
	hub        *stream.Hub
	clock      marketclock.Clock
	cfg        config.ServerConfig
	log        zerolog.Logger
}

func NewServer(
	cfg config.ServerConfig,
	eng Engine,
	analytics Analytics,
	market MarketInfo,
	hub *stream.Hub,
	clock marketclock.Clock,
	log zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		engine:    eng,
		analytics: analytics,
		market:    market,
		hub:       hub,
		clock:     clock,
		cfg:       cfg,
		log:       log.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	apiGroup := s.router.Group("/api")
	{
		apiGroup.GET("/top-picks/:universe/:mode", s.handleTopPicks)
		apiGroup.GET("/market/status", s.handleMarketStatus)
		apiGroup.GET("/analytics/winning-trades", s.handleWinningTrades)
	}
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("http server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleWebSocket(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream disabled"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := s.hub.Connect(conn)
	go s.hub.ReadLoop(client)
}
