package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/fee"
)

// FeeSchedule is one engine's tier table.
type FeeSchedule interface {
	Name() string
	Rates() fee.Rates
	Collector() common.Address
	SetRate(ctx context.Context, caller common.Address, tier domain.Tier, rate uint16) error
	SetCollector(ctx context.Context, caller, collector common.Address) error
	Resolve(ctx context.Context, oracle domain.TierOracle, account common.Address) (domain.Tier, uint16, error)
}

// FeeHandler serves the fee schedule endpoints.
type FeeHandler struct {
	schedules map[string]FeeSchedule
	tiers     domain.TierOracle
	logger    *slog.Logger
}

// NewFeeHandler creates a FeeHandler over the given schedules, keyed by
// Name.
func NewFeeHandler(tiers domain.TierOracle, logger *slog.Logger, schedules ...FeeSchedule) *FeeHandler {
	m := make(map[string]FeeSchedule, len(schedules))
	for _, s := range schedules {
		m[s.Name()] = s
	}
	return &FeeHandler{schedules: m, tiers: tiers, logger: logHandler(logger, "fees")}
}

type scheduleView struct {
	Name      string            `json:"name"`
	Collector string            `json:"collector"`
	Rates     map[string]uint16 `json:"rates_bps"`
}

func toScheduleView(s FeeSchedule) scheduleView {
	rates := s.Rates()
	v := scheduleView{Name: s.Name(), Collector: s.Collector().Hex(), Rates: make(map[string]uint16, len(rates))}
	for i, r := range rates {
		v.Rates[domain.Tier(i).String()] = r
	}
	return v
}

func (h *FeeHandler) schedule(w http.ResponseWriter, r *http.Request) (FeeSchedule, bool) {
	s, ok := h.schedules[r.PathValue("engine")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown fee schedule "+r.PathValue("engine"))
	}
	return s, ok
}

// GetSchedule returns one engine's schedule.
// GET /api/fees/{engine}
func (h *FeeHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schedule(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toScheduleView(s))
}

// ResolveRate reports the tier and rate that apply to an account.
// GET /api/fees/{engine}/rate?account=0x..
func (h *FeeHandler) ResolveRate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schedule(w, r)
	if !ok {
		return
	}
	account, err := parseAddress(r.URL.Query().Get("account"))
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve rate", err)
		return
	}
	tier, rate, err := s.Resolve(r.Context(), h.tiers, account)
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve rate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":  account.Hex(),
		"tier":     tier.String(),
		"rate_bps": rate,
	})
}

type setRateRequest struct {
	RateBps uint16 `json:"rate_bps"`
}

// SetRate replaces the rate of one tier. Operator only.
// PUT /api/fees/{engine}/tiers/{tier}
func (h *FeeHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schedule(w, r)
	if !ok {
		return
	}
	err := func() error {
		caller, err := callerOf(r)
		if err != nil {
			return err
		}
		tier, err := domain.ParseTier(r.PathValue("tier"))
		if err != nil {
			return err
		}
		var req setRateRequest
		if err := decodeBody(w, r, &req); err != nil {
			return err
		}
		return s.SetRate(r.Context(), caller, tier, req.RateBps)
	}()
	if err != nil {
		writeDomainError(w, r, h.logger, "set rate", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleView(s))
}

type setCollectorRequest struct {
	Collector string `json:"collector"`
}

// SetCollector changes where an engine's fees go. Operator only.
// PUT /api/fees/{engine}/collector
func (h *FeeHandler) SetCollector(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schedule(w, r)
	if !ok {
		return
	}
	err := func() error {
		caller, err := callerOf(r)
		if err != nil {
			return err
		}
		var req setCollectorRequest
		if err := decodeBody(w, r, &req); err != nil {
			return err
		}
		collector, err := parseAddress(req.Collector)
		if err != nil {
			return err
		}
		return s.SetCollector(r.Context(), caller, collector)
	}()
	if err != nil {
		writeDomainError(w, r, h.logger, "set collector", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleView(s))
}
