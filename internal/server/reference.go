package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tradeforge/orderd/internal/apperr"
	"github.com/tradeforge/orderd/internal/types"
)

// Reference CRUD is thin persistence: decode, delegate, map errors. Version
// mismatches surface as 409, missing rows as 404, deletes as 204.

func (s *Server) refID(w http.ResponseWriter, r *http.Request) (int32, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		s.writeError(w, r, apperr.Validation("invalid id"))
		return 0, false
	}
	return int32(id), true
}

func statusRoutes(s *Server) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", s.handleListStatuses)
		r.Post("/", s.handleCreateStatus)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetStatus)
			r.Put("/", s.handleUpdateStatus)
			r.Delete("/", s.handleDeleteStatus)
		})
	}
}

func (s *Server) handleListStatuses(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListStatuses(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []*types.Status{}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateStatus(w http.ResponseWriter, r *http.Request) {
	var st types.Status
	if !s.decode(w, r, &st) {
		return
	}
	if st.Abbreviation == "" {
		s.writeError(w, r, apperr.Validation("abbreviation is required"))
		return
	}
	if err := s.store.CreateStatus(r.Context(), &st); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.refID(w, r)
	if !ok {
		return
	}
	st, err := s.store.GetStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.refID(w, r)
	if !ok {
		return
	}
	var st types.Status
	if !s.decode(w, r, &st) {
		return
	}
	st.ID = id
	if err := s.store.UpdateStatus(r.Context(), &st); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.store.GetStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.refID(w, r)
	if !ok {
		return
	}
	version, ok := s.versionParam(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteStatus(r.Context(), id, version); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func orderTypeRoutes(s *Server) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", s.handleListOrderTypes)
		r.Post("/", s.handleCreateOrderType)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetOrderType)
			r.Put("/", s.handleUpdateOrderType)
			r.Delete("/", s.handleDeleteOrderType)
		})
	}
}

func (s *Server) handleListOrderTypes(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListOrderTypes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []*types.OrderType{}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateOrderType(w http.ResponseWriter, r *http.Request) {
	var t types.OrderType
	if !s.decode(w, r, &t) {
		return
	}
	if t.Abbreviation == "" {
		s.writeError(w, r, apperr.Validation("abbreviation is required"))
		return
	}
	if err := s.store.CreateOrderType(r.Context(), &t); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetOrderType(w http.ResponseWriter, r *http.Request) {
	id, ok := s.refID(w, r)
	if !ok {
		return
	}
	t, err := s.store.GetOrderType(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateOrderType(w http.ResponseWriter, r *http.Request) {
	id, ok := s.refID(w, r)
	if !ok {
		return
	}
	var t types.OrderType
	if !s.decode(w, r, &t) {
		return
	}
	t.ID = id
	if err := s.store.UpdateOrderType(r.Context(), &t); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.store.GetOrderType(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteOrderType(w http.ResponseWriter, r *http.Request) {
	id, ok := s.refID(w, r)
	if !ok {
		return
	}
	version, ok := s.versionParam(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteOrderType(r.Context(), id, version); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func blotterRoutes(s *Server) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", s.handleListBlotters)
		r.Post("/", s.handleCreateBlotter)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetBlotter)
			r.Put("/", s.handleUpdateBlotter)
			r.Delete("/", s.handleDeleteBlotter)
		})
	}
}

func (s *Server) handleListBlotters(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListBlotters(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []*types.Blotter{}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateBlotter(w http.ResponseWriter, r *http.Request) {
	var b types.Blotter
	if !s.decode(w, r, &b) {
		return
	}
	if b.Name == "" {
		s.writeError(w, r, apperr.Validation("name is required"))
		return
	}
	if err := s.store.CreateBlotter(r.Context(), &b); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBlotter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.refID(w, r)
	if !ok {
		return
	}
	b, err := s.store.GetBlotter(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleUpdateBlotter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.refID(w, r)
	if !ok {
		return
	}
	var b types.Blotter
	if !s.decode(w, r, &b) {
		return
	}
	b.ID = id
	if err := s.store.UpdateBlotter(r.Context(), &b); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.store.GetBlotter(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteBlotter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.refID(w, r)
	if !ok {
		return
	}
	version, ok := s.versionParam(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteBlotter(r.Context(), id, version); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
