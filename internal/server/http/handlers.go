package httpserver

import (
	"net/http"

	"github.com/and161185/alertme/internal/convert"
)

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req convert.TriggerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	caller, err := actingUser(r, "callerId", req.CallerID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	res, err := s.triggers.Trigger(r.Context(), caller, req.CombinationID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.TriggerResponse{Delivered: res.Delivered, RecipientCount: res.RecipientCount})
}

func (s *Server) handleGetCombinations(w http.ResponseWriter, r *http.Request) {
	var req convert.OwnerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	owner, err := actingUser(r, "ownerId", req.OwnerID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	cs, err := s.combos.List(r.Context(), owner)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.CombinationsResponse{Combinations: convert.ToCombinations(cs)})
}

func (s *Server) handleAddCombination(w http.ResponseWriter, r *http.Request) {
	s.writeCombination(w, r, http.StatusCreated, true)
}

func (s *Server) handleUpdateCombination(w http.ResponseWriter, r *http.Request) {
	s.writeCombination(w, r, http.StatusOK, false)
}

func (s *Server) writeCombination(w http.ResponseWriter, r *http.Request, status int, create bool) {
	var req convert.WriteCombinationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	owner, err := actingUser(r, "ownerId", req.OwnerID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	c, err := convert.FromCombination(owner, req.Combination())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	save := s.combos.Update
	if create {
		save = s.combos.Add
	}
	out, err := save(r.Context(), c)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, status, convert.CombinationResponse{Combination: convert.ToCombination(*out)})
}

func (s *Server) handleDeleteCombination(w http.ResponseWriter, r *http.Request) {
	var req convert.DeleteCombinationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	owner, err := actingUser(r, "ownerId", req.OwnerID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.combos.Delete(r.Context(), owner, req.CombinationID); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.MessageResponse{Message: "combination deleted"})
}

func (s *Server) handleRegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var req convert.RegisterEndpointRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	user, err := actingUser(r, "userId", req.UserID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	e, err := s.endpoints.Register(r.Context(), user, req.Token)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.EndpointResponse{Endpoint: convert.ToEndpoint(*e)})
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	var req convert.UserRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	user, err := actingUser(r, "userId", req.UserID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	es, err := s.endpoints.List(r.Context(), user)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.EndpointsResponse{Endpoints: convert.ToEndpoints(es)})
}
