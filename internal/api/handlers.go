package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fueltek/workorder-api/internal/models"
	apperrors "github.com/fueltek/workorder-api/pkg/errors"
)

// ApiResponse is the envelope for every JSON answer.
type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Health is the health check response.
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: Health{
			Status:    "ok",
			Version:   "1.0.0",
			Timestamp: time.Now().Format(time.RFC3339),
		},
	})
}

// listOrdersHandler returns orders matching ?search=, newest first.
func (s *Server) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orderService.List(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: orders})
}

// createOrderHandler saves a new order, allocating its number.
func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var order models.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	saved, err := s.orderService.SaveNew(r.Context(), &order)
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: saved})
}

// getOrderHandler returns one order by number.
func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	number, err := models.ParseNumber(mux.Vars(r)["number"])
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}

	order, err := s.orderService.Get(r.Context(), number)
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

// updateOrderHandler overwrites an existing order. Never allocates.
func (s *Server) updateOrderHandler(w http.ResponseWriter, r *http.Request) {
	number, err := models.ParseNumber(mux.Vars(r)["number"])
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}

	var order models.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	updated, err := s.orderService.SaveUpdate(r.Context(), number, &order)
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: updated})
}

// deleteOrderHandler removes one order. The number is retired.
func (s *Server) deleteOrderHandler(w http.ResponseWriter, r *http.Request) {
	number, err := models.ParseNumber(mux.Vars(r)["number"])
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}

	if err := s.orderService.Remove(r.Context(), number); err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true})
}

// wipeOrdersHandler deletes everything and resets the correlative.
func (s *Server) wipeOrdersHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.orderService.Wipe(r.Context()); err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true})
}

// peekNextHandler reports the next number for display. Not a
// reservation: a concurrent save elsewhere may take it first.
func (s *Server) peekNextHandler(w http.ResponseWriter, r *http.Request) {
	next, err := s.orderService.PeekNext(r.Context())
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    map[string]int64{"next": next},
	})
}

// reconcileHandler repairs counter drift from the stored orders.
func (s *Server) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	value, err := s.orderService.Reconcile(r.Context())
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    map[string]int64{"value": value},
	})
}

// syncStatusHandler reports the sync backlog and breaker state.
func (s *Server) syncStatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.orderService.Status(r.Context())
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: status})
}

// respondWithServiceError maps service errors onto HTTP statuses.
func (s *Server) respondWithServiceError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		s.respondWithError(w, appErr.StatusCode, appErr.Message)
		return
	}
	s.respondWithError(w, apperrors.StatusCode(err), err.Error())
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{Success: false, Error: message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
