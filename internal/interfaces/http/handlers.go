package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/EnragedAntelope/autotrader-sub001/internal/backtest"
	"github.com/EnragedAntelope/autotrader-sub001/internal/orders"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
	"github.com/EnragedAntelope/autotrader-sub001/internal/risk"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, "not_found", "unknown endpoint: "+r.URL.Path)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":       "ok",
		"trading_mode": s.deps.TradingMode,
		"timestamp":    time.Now().UTC(),
	}
	if s.deps.Monitor != nil {
		resp["monitor_running"] = s.deps.Monitor.Running()
	}
	if s.deps.Scheduler != nil {
		resp["scheduler_running"] = s.deps.Scheduler.Running()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type scanRequest struct {
	ProfileID int64 `json:"profile_id"`
}

// handleScan triggers one manual scan for a profile.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid scan request: "+err.Error())
		return
	}
	profile, err := s.deps.Store.Profiles.Get(r.Context(), req.ProfileID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	matches, err := s.deps.Scheduler.RunNow(r.Context(), *profile)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "scan_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"profile": profile.Name,
		"matches": matches,
	})
}

// handleTrade executes one order through the full risk pipeline. A risk
// rejection is a 200 with executed=false, not an HTTP error.
func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req orders.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid trade request: "+err.Error())
		return
	}
	outcome, err := s.deps.Executor.Execute(r.Context(), req)
	switch {
	case errors.Is(err, orders.ErrInvalidOrder):
		s.writeError(w, http.StatusBadRequest, "invalid_order", err.Error())
		return
	case errors.Is(err, risk.ErrSettingsMissing):
		s.writeError(w, http.StatusPreconditionFailed, "risk_unconfigured", err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusBadGateway, "broker_error", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.deps.Store.Positions.List(r.Context(), s.deps.TradingMode)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trading_mode": s.deps.TradingMode,
		"count":        len(positions),
		"positions":    positions,
	})
}

// handleClosePosition force-sells one open position at market.
func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	pos, err := s.deps.Store.Positions.Get(r.Context(), s.deps.TradingMode, symbol)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "not_found", "no open position in "+symbol)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if err := s.deps.Monitor.Liquidate(r.Context(), *pos, persistence.CloseManual); err != nil {
		s.writeError(w, http.StatusBadGateway, "close_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"symbol": symbol, "status": "closed"})
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	// Jobs must outlive the request, so the scheduler gets its own base
	// context rather than the request's.
	if err := s.deps.Scheduler.Start(context.Background()); err != nil {
		s.writeError(w, http.StatusInternalServerError, "scheduler_error", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"running": true, "jobs": s.deps.Scheduler.JobCount()})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Scheduler.Stop()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"running": false})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": s.deps.Scheduler.Running(),
		"jobs":    s.deps.Scheduler.Status(),
	})
}

func (s *Server) handleRateStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.deps.Budget.StatusAll(),
	})
}

type rateUpdateRequest struct {
	MaxPerMinute int `json:"max_per_minute"`
	MaxPerDay    int `json:"max_per_day"`
}

func (s *Server) handleRateUpdate(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	var req rateUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid quota update: "+err.Error())
		return
	}
	if req.MaxPerMinute <= 0 || req.MaxPerDay <= 0 {
		s.writeError(w, http.StatusBadRequest, "bad_request", "limits must be positive")
		return
	}
	s.deps.Budget.Configure(provider, req.MaxPerMinute, req.MaxPerDay)
	s.writeJSON(w, http.StatusOK, s.deps.Budget.Status(provider))
}

type backtestRequest struct {
	ProfileID      int64   `json:"profile_id"`
	Start          string  `json:"start"` // YYYY-MM-DD
	End            string  `json:"end"`
	InitialCapital float64 `json:"initial_capital"`
	PositionSize   float64 `json:"position_size"`
	StepDays       int     `json:"step_days,omitempty"`
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid backtest request: "+err.Error())
		return
	}
	start, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid start date: "+req.Start)
		return
	}
	end, err := time.Parse("2006-01-02", req.End)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid end date: "+req.End)
		return
	}
	profile, err := s.deps.Store.Profiles.Get(r.Context(), req.ProfileID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	result, err := s.deps.Backtest.Run(r.Context(), backtest.Request{
		Profile:        *profile,
		Start:          start,
		End:            end,
		InitialCapital: req.InitialCapital,
		PositionSize:   req.PositionSize,
		StepDays:       req.StepDays,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "backtest_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
