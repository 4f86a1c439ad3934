package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/fueltek/workorder-api/internal/models"
	"github.com/fueltek/workorder-api/pkg/clp"
)

var exportHeader = []string{
	"Numero", "Cliente", "Telefono", "Email", "Recepcion", "Entrega",
	"Marca", "Modelo", "Serie", "Ano", "Accesorios", "Diagnostico",
	"Trabajo realizado", "Total", "Abonado", "Estado pago", "Guardado",
}

func exportRow(o *models.Order) []string {
	return []string{
		strconv.FormatInt(o.Number, 10),
		o.Client,
		o.Phone,
		o.Email,
		o.ReceivedAt,
		o.PromisedAt,
		o.Brand,
		o.ToolModel,
		o.Serial,
		o.Year,
		strings.Join(o.Accessories, ", "),
		o.Diagnosis,
		o.WorkNotes,
		clp.Format(o.TotalAmount),
		clp.Format(o.AmountPaid),
		string(o.PaymentStatus),
		o.SavedAt.Format(time.RFC3339),
	}
}

// exportOrdersHandler streams the full order book as CSV or XLSX,
// selected with ?format=. CSV is the default.
func (s *Server) exportOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orderService.List(r.Context(), "")
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}

	stamp := time.Now().Format("2006-01-02")
	switch format := r.URL.Query().Get("format"); format {
	case "", "csv":
		s.exportCSV(w, orders, stamp)
	case "xlsx":
		s.exportXLSX(w, orders, stamp)
	default:
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown export format: %s", format))
	}
}

func (s *Server) exportCSV(w http.ResponseWriter, orders []*models.Order, stamp string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ordenes_%s.csv"`, stamp))

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		s.logger.Error("Failed to write CSV header", "error", err)
		return
	}
	for _, o := range orders {
		if err := cw.Write(exportRow(o)); err != nil {
			s.logger.Error("Failed to write CSV row", "number", o.Number, "error", err)
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Error("Failed to flush CSV export", "error", err)
	}
}

func (s *Server) exportXLSX(w http.ResponseWriter, orders []*models.Order, stamp string) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Ordenes"
	f.SetSheetName("Sheet1", sheet)

	for i, title := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, title)
	}
	for rowIdx, o := range orders {
		for colIdx, value := range exportRow(o) {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			f.SetCellValue(sheet, cell, value)
		}
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ordenes_%s.xlsx"`, stamp))
	if err := f.Write(w); err != nil {
		s.logger.Error("Failed to write XLSX export", "error", err)
	}
}
