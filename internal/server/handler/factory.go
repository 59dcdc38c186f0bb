package handler

import (
	"log/slog"
	"net/http"
	"strconv"
)

// FactoryHandler serves the registry endpoints.
type FactoryHandler struct {
	auctions *AuctionHandler
	logger   *slog.Logger
}

// NewFactoryHandler creates a FactoryHandler over the same service as the
// auction endpoints.
func NewFactoryHandler(svc AuctionService, logger *slog.Logger) *FactoryHandler {
	return &FactoryHandler{
		auctions: NewAuctionHandler(svc, logger),
		logger:   logHandler(logger, "factory"),
	}
}

// GetFactory returns the factory address and auction count.
// GET /api/factory
func (h *FactoryHandler) GetFactory(w http.ResponseWriter, r *http.Request) {
	svc := h.auctions.svc
	writeJSON(w, http.StatusOK, map[string]any{
		"address": svc.FactoryAddress().Hex(),
		"count":   svc.AuctionCount(r.Context()),
	})
}

// GetAuctionAt returns the auction address at a registry index.
// GET /api/factory/auctions/{index}
func (h *FactoryHandler) GetAuctionAt(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(pathParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	addr, err := h.auctions.svc.AuctionAt(r.Context(), idx)
	if err != nil {
		writeServiceError(w, r, h.logger, "get auction at", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index": idx, "address": addr.Hex()})
}

// ListEvents returns the factory's AuctionCreated log.
// GET /api/factory/events
func (h *FactoryHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	h.auctions.writeEvents(w, r, h.auctions.svc.FactoryAddress())
}
