package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradeforge/orderd/internal/apperr"
	"github.com/tradeforge/orderd/internal/types"
)

type bulkSubmitRequest struct {
	OrderIDs []int64 `json:"orderIds"`
}

// handleBulkSubmit implements POST /orders/batch/submit.
func (s *Server) handleBulkSubmit(w http.ResponseWriter, r *http.Request) {
	var req bulkSubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.orch.Submit(r.Context(), req.OrderIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBatch(w, result)
}

// handleBatchCreate implements POST /orders with an array body.
func (s *Server) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	var drafts []types.OrderDraft
	if !s.decode(w, r, &drafts) {
		return
	}
	result, err := s.orch.Create(r.Context(), drafts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBatch(w, result)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*types.Order{}
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, r, apperr.Validation("invalid order id"))
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.orderID(w, r)
	if !ok {
		return
	}
	order, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

type updateOrderRequest struct {
	BlotterID   *int32           `json:"blotterId,omitempty"`
	StatusID    int32            `json:"statusId"`
	PortfolioID string           `json:"portfolioId"`
	OrderTypeID int32            `json:"orderTypeId"`
	SecurityID  string           `json:"securityId"`
	Quantity    decimal.Decimal  `json:"quantity"`
	LimitPrice  *decimal.Decimal `json:"limitPrice,omitempty"`
	Version     int32            `json:"version"`
}

// handleUpdateOrder implements the administrative PUT /orders/{id}. The body
// carries the expected version; a stale version yields 409.
func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.orderID(w, r)
	if !ok {
		return
	}
	var req updateOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.PortfolioID == "" || len(req.PortfolioID) > types.MaxPortfolioIDLen {
		s.writeError(w, r, apperr.Validation("portfolioId is required and at most 24 characters"))
		return
	}
	if !req.Quantity.IsPositive() {
		s.writeError(w, r, apperr.Validation("quantity must be positive"))
		return
	}
	order := &types.Order{
		ID:          id,
		Status:      types.Status{ID: req.StatusID},
		OrderType:   types.OrderType{ID: req.OrderTypeID},
		PortfolioID: req.PortfolioID,
		SecurityID:  req.SecurityID,
		Quantity:    req.Quantity,
		LimitPrice:  req.LimitPrice,
		Version:     req.Version,
	}
	if req.BlotterID != nil {
		order.Blotter = &types.Blotter{ID: *req.BlotterID}
	}
	if err := s.store.UpdateOrder(r.Context(), order); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

// handleDeleteOrder implements DELETE /orders/{id}?version=N.
func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.orderID(w, r)
	if !ok {
		return
	}
	version, ok := s.versionParam(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteOrder(r.Context(), id, version); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) versionParam(w http.ResponseWriter, r *http.Request) (int32, bool) {
	v, err := strconv.ParseInt(r.URL.Query().Get("version"), 10, 32)
	if err != nil {
		s.writeError(w, r, apperr.Validation("version query parameter is required"))
		return 0, false
	}
	return int32(v), true
}
