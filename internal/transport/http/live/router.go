package livehttp

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"swell/internal/analysis/indicator"
	"swell/internal/analysis/visual"
	"swell/internal/logger"
	"swell/internal/market"
	"swell/internal/store/cyclelog"
	"swell/internal/trader"
)

// CycleReader is the journal view the API queries.
type CycleReader interface {
	Get(ctx context.Context, id int64) (cyclelog.CycleRecord, error)
	List(ctx context.Context, q cyclelog.Query) ([]cyclelog.CycleRecord, error)
}

// StatusSource serves the in-memory view of the latest finished cycle.
type StatusSource interface {
	LastCycle() (trader.CycleView, bool)
}

// Router exposes the /api/live endpoints.
type Router struct {
	Status   StatusSource
	Cycles   CycleReader
	History  market.Source
	Lookback int
}

func NewRouter(status StatusSource, cycles CycleReader, history market.Source, lookback int) *Router {
	if lookback <= 0 {
		lookback = 100
	}
	return &Router{Status: status, Cycles: cycles, History: history, Lookback: lookback}
}

// Register mounts the /api/live routes on the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/book", r.handleBook)
	group.GET("/candidates", r.handleCandidates)
	group.GET("/cycles", r.handleCycles)
	group.GET("/cycles/:id", r.handleCycleByID)
	group.GET("/report/:symbol", r.handleReport)
}

func (r *Router) handleBook(c *gin.Context) {
	view, ok := r.lastCycle()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no cycle has completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trace_id":    view.TraceID,
		"at":          view.At,
		"market_open": view.MarketOpen,
		"frozen":      view.Frozen,
		"book":        view.Book,
	})
}

func (r *Router) handleCandidates(c *gin.Context) {
	view, ok := r.lastCycle()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no cycle has completed yet"})
		return
	}
	payload := gin.H{
		"trace_id":  view.TraceID,
		"at":        view.At,
		"frozen":    view.Frozen,
		"sentiment": view.Sentiment,
	}
	switch side := strings.ToLower(strings.TrimSpace(c.Query("side"))); side {
	case "":
		payload["rankings"] = view.Rankings
		payload["entry_candidates"] = view.Candidates
	case string(market.SideLong), string(market.SideShort):
		payload["rankings"] = gin.H{side: view.Rankings[market.Side(side)]}
		payload["entry_candidates"] = gin.H{side: view.Candidates[market.Side(side)]}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be long or short"})
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (r *Router) handleCycles(c *gin.Context) {
	if r.Cycles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cycle journal unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	records, err := r.Cycles.List(ctx, cyclelog.Query{Limit: limit, Offset: offset})
	if err != nil {
		logger.Errorf("[api] cycle list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cycles": records,
		"limit":  limit,
		"offset": offset,
	})
}

func (r *Router) handleCycleByID(c *gin.Context) {
	if r.Cycles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cycle journal unavailable"})
		return
	}
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cycle id"})
		return
	}
	rec, err := r.Cycles.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "cycle not found"})
			return
		}
		logger.Errorf("[api] cycle detail failed ip=%s id=%d err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycle": rec})
}

// handleReport fetches the symbol's daily history and renders the chart page.
// The optional side query picks which read annotates the title.
func (r *Router) handleReport(c *gin.Context) {
	if r.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history source unavailable"})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	side := market.SideLong
	if q := strings.ToLower(strings.TrimSpace(c.Query("side"))); q != "" {
		if q != string(market.SideLong) && q != string(market.SideShort) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "side must be long or short"})
			return
		}
		side = market.Side(q)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	series, err := r.History.FetchHistory(ctx, symbol, r.Lookback)
	if err != nil {
		logger.Warnf("[api] report history failed ip=%s symbol=%s err=%v", c.ClientIP(), symbol, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	input := visual.ReportInput{Symbol: symbol, Series: series}
	if read, err := indicator.Compute(symbol, side, series, indicator.DefaultConfig()); err == nil {
		input.Read = &read
	}
	html, err := visual.RenderReport(input)
	if err != nil {
		logger.Errorf("[api] report render failed ip=%s symbol=%s err=%v", c.ClientIP(), symbol, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (r *Router) lastCycle() (trader.CycleView, bool) {
	if r.Status == nil {
		return trader.CycleView{}, false
	}
	return r.Status.LastCycle()
}
