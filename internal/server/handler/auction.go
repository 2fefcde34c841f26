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

// AuctionHouse is the English auction engine.
type AuctionHouse interface {
	Auction(asset domain.AssetID) (domain.Auction, bool)
	Active() []domain.Auction
	Create(ctx context.Context, asset domain.AssetID, startPrice *uint256.Int, duration time.Duration, seller common.Address) (domain.Auction, error)
	Bid(ctx context.Context, asset domain.AssetID, amount *uint256.Int, bidder common.Address) (domain.Auction, error)
	End(ctx context.Context, asset domain.AssetID, caller common.Address) (*domain.Settlement, error)
}

// AuctionHandler serves the auction endpoints.
type AuctionHandler struct {
	auctions AuctionHouse
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionHouse, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{auctions: auctions, logger: logHandler(logger, "auction")}
}

type auctionView struct {
	Asset         domain.AssetID `json:"asset"`
	Seller        string         `json:"seller"`
	StartPrice    string         `json:"start_price"`
	HighestBid    string         `json:"highest_bid"`
	HighestBidder string         `json:"highest_bidder,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	EndTime       time.Time      `json:"end_time"`
	Bids          int            `json:"bids"`
}

func toAuctionView(a domain.Auction) auctionView {
	v := auctionView{
		Asset:      a.Asset,
		Seller:     a.Seller.Hex(),
		StartPrice: dec(a.StartPrice),
		HighestBid: dec(a.HighestBid),
		StartedAt:  a.StartedAt,
		EndTime:    a.EndTime,
		Bids:       a.Bids,
	}
	if a.HighestBidder != nil {
		v.HighestBidder = a.HighestBidder.Hex()
	}
	return v
}

// ListAuctions returns every active auction.
// GET /api/auctions
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	active := h.auctions.Active()
	out := make([]auctionView, 0, len(active))
	for _, a := range active {
		out = append(out, toAuctionView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"auctions": out})
}

// GetAuction returns one auction.
// GET /api/auctions/{asset...}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	asset, err := assetParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "get auction", err)
		return
	}
	a, ok := h.auctions.Auction(asset)
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrAuctionNotActive.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAuctionView(a))
}

type createAuctionRequest struct {
	Asset      string `json:"asset"`
	StartPrice string `json:"start_price"`
	// Duration is a Go duration string such as "24h".
	Duration string `json:"duration"`
}

// CreateAuction escrows an asset and opens bidding. The caller is the seller.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	a, err := func() (domain.Auction, error) {
		seller, err := callerOf(r)
		if err != nil {
			return domain.Auction{}, err
		}
		if err := decodeBody(w, r, &req); err != nil {
			return domain.Auction{}, err
		}
		asset, err := domain.ParseAssetID(req.Asset)
		if err != nil {
			return domain.Auction{}, err
		}
		start, err := parseAmount("start_price", req.StartPrice)
		if err != nil {
			return domain.Auction{}, err
		}
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			return domain.Auction{}, domain.ErrInvalidDuration
		}
		return h.auctions.Create(r.Context(), asset, start, d, seller)
	}()
	if err != nil {
		writeDomainError(w, r, h.logger, "create auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuctionView(a))
}

type bidRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Bid places a bid. The caller is the bidder.
// POST /api/bids
func (h *AuctionHandler) Bid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	a, err := func() (domain.Auction, error) {
		bidder, err := callerOf(r)
		if err != nil {
			return domain.Auction{}, err
		}
		if err := decodeBody(w, r, &req); err != nil {
			return domain.Auction{}, err
		}
		asset, err := domain.ParseAssetID(req.Asset)
		if err != nil {
			return domain.Auction{}, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return domain.Auction{}, err
		}
		return h.auctions.Bid(r.Context(), asset, amount, bidder)
	}()
	if err != nil {
		writeDomainError(w, r, h.logger, "bid", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionView(a))
}

// EndAuction settles an auction whose end time has passed. Anyone may call
// it; the caller header is still required for attribution.
// POST /api/auctions/end
func (h *AuctionHandler) EndAuction(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	st, err := func() (*domain.Settlement, error) {
		caller, err := callerOf(r)
		if err != nil {
			return nil, err
		}
		if err := decodeBody(w, r, &req); err != nil {
			return nil, err
		}
		asset, err := domain.ParseAssetID(req.Asset)
		if err != nil {
			return nil, err
		}
		return h.auctions.End(r.Context(), asset, caller)
	}()
	if err != nil {
		writeDomainError(w, r, h.logger, "end auction", err)
		return
	}
	if st == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sold": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sold": true, "settlement": toSettlementView(*st)})
}
