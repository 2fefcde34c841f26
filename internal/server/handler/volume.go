package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// VolumeReader is the query side of the trade ledger.
type VolumeReader interface {
	Snapshot(asset domain.AssetID, now time.Time) (domain.VolumeSnapshot, error)
	Assets() []domain.AssetID
}

// TradeHistory lists journaled trades of one asset.
type TradeHistory interface {
	ListByAsset(ctx context.Context, asset domain.AssetID, opts domain.ListOpts) ([]domain.TradeRecord, error)
}

// VolumeHandler serves the ledger endpoints.
type VolumeHandler struct {
	ledger  VolumeReader
	history TradeHistory
	now     func() time.Time
	logger  *slog.Logger
}

// NewVolumeHandler creates a VolumeHandler. history may be nil when no
// journal is configured.
func NewVolumeHandler(ledger VolumeReader, history TradeHistory, now func() time.Time, logger *slog.Logger) *VolumeHandler {
	if now == nil {
		now = time.Now
	}
	return &VolumeHandler{ledger: ledger, history: history, now: now, logger: logHandler(logger, "volume")}
}

type volumeView struct {
	Asset  domain.AssetID `json:"asset"`
	Total  string         `json:"total"`
	Recent string         `json:"recent_72h"`
	Trades uint64         `json:"trades"`
	AsOf   time.Time      `json:"as_of"`
}

// ListAssets returns every asset with recorded volume.
// GET /api/volume
func (h *VolumeHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets := h.ledger.Assets()
	if assets == nil {
		assets = []domain.AssetID{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

// GetVolume returns the all-time and trailing-72h volume of one asset.
// GET /api/volume/{asset...}
func (h *VolumeHandler) GetVolume(w http.ResponseWriter, r *http.Request) {
	asset, err := assetParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "volume", err)
		return
	}
	snap, err := h.ledger.Snapshot(asset, h.now())
	if err != nil {
		writeDomainError(w, r, h.logger, "volume", err)
		return
	}
	writeJSON(w, http.StatusOK, volumeView{
		Asset:  snap.Asset,
		Total:  dec(snap.Total),
		Recent: dec(snap.Recent),
		Trades: snap.Trades,
		AsOf:   snap.AsOf,
	})
}

type tradeView struct {
	Seq       uint64    `json:"seq"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// ListTrades pages through the journal of one asset, newest first.
// GET /api/trades/{asset...}?limit=50&offset=0
func (h *VolumeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "trade journal not configured")
		return
	}
	asset, err := assetParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "list trades", err)
		return
	}
	recs, err := h.history.ListByAsset(r.Context(), asset, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list trades", err)
		return
	}
	out := make([]tradeView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, tradeView{Seq: rec.Seq, Amount: dec(rec.Amount), Timestamp: rec.Timestamp})
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "trades": out})
}
