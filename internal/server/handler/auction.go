package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// AuctionService defines the methods that the auction and factory handlers
// require from the service layer.
type AuctionService interface {
	CreateAuction(ctx context.Context, caller common.Address, item string, durationSeconds int64) (common.Address, error)
	Bid(ctx context.Context, auction, caller common.Address, amount *big.Int) error
	EndAuction(ctx context.Context, auction, caller common.Address) error
	Withdraw(ctx context.Context, auction, caller common.Address) error
	OwnerWithdraw(ctx context.Context, auction, caller common.Address) error

	Auction(ctx context.Context, addr common.Address) (domain.AuctionSnapshot, error)
	GetWinner(ctx context.Context, addr common.Address) (common.Address, *big.Int, error)
	PendingReturn(ctx context.Context, addr, account common.Address) (*big.Int, error)
	Events(ctx context.Context, contract common.Address, opts domain.ListOpts) ([]domain.Event, error)

	AuctionCount(ctx context.Context) int
	AuctionAt(ctx context.Context, index int) (common.Address, error)
	ListAuctions(ctx context.Context) []common.Address
	FactoryAddress() common.Address
	Now() time.Time
}

// AuctionHandler serves the per-auction endpoints.
type AuctionHandler struct {
	svc    AuctionService
	logger *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(svc AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{svc: svc, logger: logHandler(logger, "auction")}
}

// auctionResponse is the public view of an auction instance.
type auctionResponse struct {
	Address        string `json:"address"`
	Item           string `json:"item"`
	Owner          string `json:"owner"`
	AuctionEndTime int64  `json:"auctionEndTime"`
	EndsAt         string `json:"endsAt"`
	HighestBid     string `json:"highestBid"`
	HighestBidder  string `json:"highestBidder"`
	Ended          bool   `json:"ended"`
	OwnerClaimed   bool   `json:"ownerClaimed"`
	State          string `json:"state"`
}

func toAuctionResponse(snap domain.AuctionSnapshot, now time.Time) auctionResponse {
	return auctionResponse{
		Address:        snap.Address.Hex(),
		Item:           snap.Item,
		Owner:          snap.Owner.Hex(),
		AuctionEndTime: snap.EndTime.Unix(),
		EndsAt:         snap.EndTime.UTC().Format(time.RFC3339),
		HighestBid:     weiString(snap.HighestBid),
		HighestBidder:  snap.HighestBidder.Hex(),
		Ended:          snap.Ended,
		OwnerClaimed:   snap.OwnerClaimed,
		State:          string(snap.StateAt(now)),
	}
}

// eventResponse is the public view of a contract event.
type eventResponse struct {
	ID              string `json:"id"`
	Contract        string `json:"contract"`
	Seq             uint64 `json:"seq"`
	Kind            string `json:"kind"`
	Account         string `json:"account,omitempty"`
	Auction         string `json:"auction,omitempty"`
	Amount          string `json:"amount,omitempty"`
	Item            string `json:"item,omitempty"`
	DurationSeconds int64  `json:"durationSeconds,omitempty"`
	At              string `json:"at"`
}

func toEventResponses(events []domain.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		r := eventResponse{
			ID:              e.ID,
			Contract:        e.Contract.Hex(),
			Seq:             e.Seq,
			Kind:            string(e.Kind),
			Item:            e.Item,
			DurationSeconds: e.DurationSeconds,
			At:              e.At.UTC().Format(time.RFC3339),
		}
		if e.Account != (common.Address{}) {
			r.Account = e.Account.Hex()
		}
		if e.Auction != (common.Address{}) {
			r.Auction = e.Auction.Hex()
		}
		if e.Amount != nil {
			r.Amount = e.Amount.String()
		}
		out = append(out, r)
	}
	return out
}

type createAuctionRequest struct {
	Item            string `json:"item"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// CreateAuction deploys a new auction owned by the caller.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	addr, err := h.svc.CreateAuction(r.Context(), caller, req.Item, req.DurationSeconds)
	if err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	snap, err := h.svc.Auction(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuctionResponse(snap, h.svc.Now()))
}

// ListAuctions returns every auction address in creation order.
// GET /api/auctions
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	addrs := h.svc.ListAuctions(r.Context())
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	writeJSON(w, http.StatusOK, map[string]any{"auctions": out})
}

// CountAuctions returns the number of deployed auctions.
// GET /api/auctions/count
func (h *AuctionHandler) CountAuctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": h.svc.AuctionCount(r.Context())})
}

// GetAuction returns the current state of an auction.
// GET /api/auctions/{address}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	snap, err := h.svc.Auction(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "get auction", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionResponse(snap, h.svc.Now()))
}

type bidRequest struct {
	Amount json.Number `json:"amount"`
}

// Bid places a bid of amount wei from the caller.
// POST /api/auctions/{address}/bid
func (h *AuctionHandler) Bid(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, ok := parseWei(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a non-negative integer wei value")
		return
	}

	if err := h.svc.Bid(r.Context(), addr, caller, amount); err != nil {
		writeServiceError(w, r, h.logger, "bid", err)
		return
	}
	h.respondState(w, r, addr)
}

// EndAuction closes bidding once the deadline has passed.
// POST /api/auctions/{address}/end
func (h *AuctionHandler) EndAuction(w http.ResponseWriter, r *http.Request) {
	h.transact(w, r, "end auction", h.svc.EndAuction)
}

// Withdraw pays the caller's pending returns.
// POST /api/auctions/{address}/withdraw
func (h *AuctionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.transact(w, r, "withdraw", h.svc.Withdraw)
}

// OwnerWithdraw pays the winning bid to the owner.
// POST /api/auctions/{address}/owner-withdraw
func (h *AuctionHandler) OwnerWithdraw(w http.ResponseWriter, r *http.Request) {
	h.transact(w, r, "owner withdraw", h.svc.OwnerWithdraw)
}

func (h *AuctionHandler) transact(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(ctx context.Context, auction, caller common.Address) error,
) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), addr, caller); err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	h.respondState(w, r, addr)
}

func (h *AuctionHandler) respondState(w http.ResponseWriter, r *http.Request, addr common.Address) {
	snap, err := h.svc.Auction(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "get auction", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionResponse(snap, h.svc.Now()))
}

// GetWinner returns the winner of an ended auction.
// GET /api/auctions/{address}/winner
func (h *AuctionHandler) GetWinner(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	winner, bid, err := h.svc.GetWinner(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "get winner", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"winner":     winner.Hex(),
		"highestBid": weiString(bid),
		"hasWinner":  winner != (common.Address{}),
	})
}

// ListEvents returns the event log of an auction.
// GET /api/auctions/{address}/events?limit=50&offset=0&since=RFC3339
func (h *AuctionHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	h.writeEvents(w, r, addr)
}

func (h *AuctionHandler) writeEvents(w http.ResponseWriter, r *http.Request, contract common.Address) {
	events, err := h.svc.Events(r.Context(), contract, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": toEventResponses(events)})
}

// PendingReturn returns what account can withdraw from an auction.
// GET /api/auctions/{address}/pending/{account}
func (h *AuctionHandler) PendingReturn(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	amount, err := h.svc.PendingReturn(r.Context(), addr, account)
	if err != nil {
		writeServiceError(w, r, h.logger, "pending return", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"amount":  weiString(amount),
	})
}
