// Package dashboard serves a read-only JSON view of the trade record plus
// the Prometheus scrape endpoint. It never mutates the ledger.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Server is the dashboard HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	metrics   http.Handler
	logger    *logrus.Logger
	port      int
	authToken string
}

// Config holds the dashboard settings.
type Config struct {
	Port      int
	AuthToken string
}

// PositionView is the JSON shape served for one position.
type PositionView struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Strategy     string    `json:"strategy"`
	StrategyID   string    `json:"strategy_id"`
	Structure    string    `json:"structure"`
	ShortCall    float64   `json:"short_call"`
	LongCall     float64   `json:"long_call"`
	ShortPut     float64   `json:"short_put"`
	LongPut      float64   `json:"long_put"`
	Credit       float64   `json:"credit"`
	BuyingPower  float64   `json:"buying_power"`
	ProfitTarget float64   `json:"profit_target"`
	Status       string    `json:"status"`
	EntryDate    time.Time `json:"entry_date"`
	ExitDate     time.Time `json:"exit_date,omitempty"`
	ExitPL       float64   `json:"exit_pl"`
	ExitReason   string    `json:"exit_reason,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	IVRank       float64   `json:"iv_rank"`
}

// Statistics summarizes the trade record.
type Statistics struct {
	TotalTrades     int     `json:"total_trades"`
	OpenTrades      int     `json:"open_trades"`
	ClosedTrades    int     `json:"closed_trades"`
	ExpiredTrades   int     `json:"expired_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	WinRate         float64 `json:"win_rate"`
	TotalPL         float64 `json:"total_pl"`          // realized, points
	AveragePL       float64 `json:"average_pl"`        // realized, points
	OpenBuyingPower float64 `json:"open_buying_power"` // dollars committed right now
}

// NewServer creates the dashboard server.
func NewServer(cfg Config, store storage.Interface, metrics http.Handler, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		metrics:   metrics,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/position/{id}", s.handleGetPosition)
	s.router.Get("/api/stats", s.handleGetStats)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the server until ListenAndServe returns.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.storage.GetAllPositions()
	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, toView(p))
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, found := s.storage.GetPositionByID(id)
	if !found {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, toView(p))
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.calculateStatistics())
}

func (s *Server) calculateStatistics() Statistics {
	var stats Statistics
	for _, p := range s.storage.GetAllPositions() {
		stats.TotalTrades++
		switch p.Status {
		case models.StatusOpen:
			stats.OpenTrades++
			stats.OpenBuyingPower += p.BuyingPower
			continue
		case models.StatusClosed:
			stats.ClosedTrades++
		case models.StatusExpired:
			stats.ExpiredTrades++
		}
		stats.TotalPL += p.ExitPL
		if p.ExitPL >= 0 {
			stats.WinningTrades++
		} else {
			stats.LosingTrades++
		}
	}
	settledCount := stats.ClosedTrades + stats.ExpiredTrades
	if settledCount > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(settledCount) * 100
		stats.AveragePL = stats.TotalPL / float64(settledCount)
	}
	return stats
}

func toView(p *models.Position) PositionView {
	structure := "condor"
	if p.Legs.IsFly() {
		structure = "fly"
	}
	return PositionView{
		ID:           p.ID,
		Symbol:       p.Symbol,
		Strategy:     p.Strategy,
		StrategyID:   p.StrategyID,
		Structure:    structure,
		ShortCall:    p.Legs.ShortCall.Strike,
		LongCall:     p.Legs.LongCall.Strike,
		ShortPut:     p.Legs.ShortPut.Strike,
		LongPut:      p.Legs.LongPut.Strike,
		Credit:       p.Credit,
		BuyingPower:  p.BuyingPower,
		ProfitTarget: p.ProfitTarget,
		Status:       string(p.Status),
		EntryDate:    p.EntryDate,
		ExitDate:     p.ExitDate,
		ExitPL:       p.ExitPL,
		ExitReason:   p.ExitReason,
		Notes:        p.Notes,
		IVRank:       p.IVRank,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
