package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fueltek/workorder-api/internal/models"
)

// backupHandler dumps every order as a JSON array the restore
// endpoint accepts back.
func (s *Server) backupHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orderService.List(r.Context(), "")
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="ordenes_backup_%s.json"`, time.Now().Format("2006-01-02")))
	if err := json.NewEncoder(w).Encode(orders); err != nil {
		s.logger.Error("Failed to write backup", "error", err)
	}
}

// restoreHandler imports a backup. Orders carrying a number are
// upserted under it; orders without one get a fresh allocation.
func (s *Server) restoreHandler(w http.ResponseWriter, r *http.Request) {
	var orders []*models.Order
	if err := json.NewDecoder(r.Body).Decode(&orders); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid backup payload")
		return
	}
	defer r.Body.Close()

	result, err := s.orderService.Import(r.Context(), orders)
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result})
}
