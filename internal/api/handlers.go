package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/engine"
	"arise-trading-engine/internal/marketclock"
	"arise-trading-engine/internal/universe"
)

func (s *Server) handleHealth(c *gin.Context) {
	now := s.clock.Now()
	resp := gin.H{
		"status":      "ok",
		"time_ist":    now.In(marketclock.IST).Format(time.RFC3339),
		"market_open": marketclock.IsMarketOpen(now),
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.ClientCount()
	}
	if s.market != nil {
		resp["data_plane"] = s.market.GetMarketStatus()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMarketStatus(c *gin.Context) {
	now := s.clock.Now()
	resp := gin.H{
		"trade_date":      marketclock.TradeDate(now),
		"is_trading_day":  marketclock.IsTradingDay(now),
		"market_open":     marketclock.IsMarketOpen(now),
		"session_segment": marketclock.SessionSegment(now),
	}
	if s.market != nil {
		resp["provider"] = s.market.GetMarketStatus()
	}
	c.JSON(http.StatusOK, resp)
}

// handleTopPicks serves the latest cached run for a pair. ?refresh=1 forces
// a fresh lock-guarded engine run instead.
func (s *Server) handleTopPicks(c *gin.Context) {
	universeName := c.Param("universe")
	if len(universe.Resolve(universeName)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown universe " + universeName})
		return
	}
	mode := domain.ParseMode(c.Param("mode"))

	if c.Query("refresh") == "1" {
		result, err := s.engine.Run(c.Request.Context(), universeName, mode, domain.TriggerManual)
		switch {
		case errors.Is(err, engine.ErrRunInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "run already in progress"})
		case errors.Is(err, engine.ErrAfterCutoff):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "intraday entries closed for the day"})
		case err != nil:
			s.log.Error().Err(err).Str("universe", universeName).Str("mode", string(mode)).Msg("manual run failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "engine run failed"})
		default:
			c.JSON(http.StatusOK, result)
		}
		return
	}

	result, ok := s.engine.Latest(universeName, mode)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run available yet"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleWinningTrades lists realized winners over a date range, newest
// defaults: last 7 trade days.
func (s *Server) handleWinningTrades(c *gin.Context) {
	if s.analytics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics store disabled"})
		return
	}
	now := s.clock.Now()
	toDate := c.DefaultQuery("to", marketclock.TradeDate(now))
	fromDate := c.DefaultQuery("from", marketclock.TradeDate(now.AddDate(0, 0, -7)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	trades, err := s.analytics.WinningTrades(c.Request.Context(), fromDate, toDate, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("winning trades query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":   fromDate,
		"to":     toDate,
		"count":  len(trades),
		"trades": trades,
	})
}
