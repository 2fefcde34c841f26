package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// Marketplace is the fixed-price escrow engine.
type Marketplace interface {
	Listing(asset domain.AssetID) (domain.Listing, bool)
	Listings() []domain.Listing
	List(ctx context.Context, asset domain.AssetID, price *uint256.Int, seller common.Address) (domain.Listing, error)
	Delist(ctx context.Context, asset domain.AssetID, caller common.Address) error
	Buy(ctx context.Context, asset domain.AssetID, buyer common.Address) (domain.Settlement, error)
}

// MarketplaceHandler serves the listing endpoints.
type MarketplaceHandler struct {
	market Marketplace
	logger *slog.Logger
}

// NewMarketplaceHandler creates a MarketplaceHandler.
func NewMarketplaceHandler(market Marketplace, logger *slog.Logger) *MarketplaceHandler {
	return &MarketplaceHandler{market: market, logger: logHandler(logger, "marketplace")}
}

type listingView struct {
	Asset    domain.AssetID `json:"asset"`
	Seller   string         `json:"seller"`
	Price    string         `json:"price"`
	ListedAt time.Time      `json:"listed_at"`
}

func toListingView(l domain.Listing) listingView {
	return listingView{Asset: l.Asset, Seller: l.Seller.Hex(), Price: dec(l.Price), ListedAt: l.ListedAt}
}

// ListListings returns every open listing.
// GET /api/listings
func (h *MarketplaceHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	listings := h.market.Listings()
	out := make([]listingView, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingView(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": out})
}

// GetListing returns one listing.
// GET /api/listings/{asset...}
func (h *MarketplaceHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	asset, err := assetParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "get listing", err)
		return
	}
	l, ok := h.market.Listing(asset)
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrNotListed.Error())
		return
	}
	writeJSON(w, http.StatusOK, toListingView(l))
}

type listRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

// CreateListing escrows an asset at a fixed price. The caller is the seller.
// POST /api/listings
func (h *MarketplaceHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	l, err := func() (domain.Listing, error) {
		seller, err := callerOf(r)
		if err != nil {
			return domain.Listing{}, err
		}
		if err := decodeBody(w, r, &req); err != nil {
			return domain.Listing{}, err
		}
		asset, err := domain.ParseAssetID(req.Asset)
		if err != nil {
			return domain.Listing{}, err
		}
		price, err := parseAmount("price", req.Price)
		if err != nil {
			return domain.Listing{}, err
		}
		return h.market.List(r.Context(), asset, price, seller)
	}()
	if err != nil {
		writeDomainError(w, r, h.logger, "list", err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingView(l))
}

// DeleteListing returns an unsold asset to its seller.
// DELETE /api/listings/{asset...}
func (h *MarketplaceHandler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "delist", err)
		return
	}
	asset, err := assetParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "delist", err)
		return
	}
	if err := h.market.Delist(r.Context(), asset, caller); err != nil {
		writeDomainError(w, r, h.logger, "delist", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type buyRequest struct {
	Asset string `json:"asset"`
}

// Buy purchases a listed asset. The caller is the buyer.
// POST /api/purchases
func (h *MarketplaceHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	st, err := func() (domain.Settlement, error) {
		buyer, err := callerOf(r)
		if err != nil {
			return domain.Settlement{}, err
		}
		if err := decodeBody(w, r, &req); err != nil {
			return domain.Settlement{}, err
		}
		asset, err := domain.ParseAssetID(req.Asset)
		if err != nil {
			return domain.Settlement{}, err
		}
		return h.market.Buy(r.Context(), asset, buyer)
	}()
	if err != nil {
		writeDomainError(w, r, h.logger, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementView(st))
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
