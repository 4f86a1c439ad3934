package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fueltek/workorder-api/internal/allocator"
	"github.com/fueltek/workorder-api/internal/models"
	"github.com/fueltek/workorder-api/internal/repository"
	"github.com/fueltek/workorder-api/internal/service"
	"github.com/fueltek/workorder-api/pkg/circuitbreaker"
	"github.com/fueltek/workorder-api/pkg/logger"
)

// newTestServer wires the HTTP surface over in-memory stores in
// local-only mode.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	localOrders := repository.NewMemoryOrderRepository()
	localCounter := repository.NewMemoryCounterRepository(726)
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 1,
	})
	alloc := allocator.New(nil,
		allocator.Backend{Orders: localOrders, Counter: localCounter},
		breaker, 5, 726, logger.Nop())
	svc := service.NewOrderService(alloc, nil, localOrders,
		repository.NewMemoryJournalRepository(), breaker, nil, 726, logger.Nop())

	s := &Server{
		logger:       logger.Nop(),
		router:       mux.NewRouter(),
		orderService: svc,
	}
	s.setupRoutes()
	return s
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) ApiResponse {
	t.Helper()
	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func createOrder(t *testing.T, s *Server, body string) models.Order {
	t.Helper()
	rr := doRequest(s, http.MethodPost, "/api/v1/orders", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	resp := decodeResponse(t, rr)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var order models.Order
	require.NoError(t, json.Unmarshal(raw, &order))
	return order
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	rr := doRequest(s, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeResponse(t, rr).Success)
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	s := newTestServer(t)

	first := createOrder(t, s, `{"client_name":"Pedro Soto"}`)
	assert.Equal(t, int64(727), first.Number)

	second := createOrder(t, s, `{"client_name":"Maria Rojas"}`)
	assert.Equal(t, int64(728), second.Number)
}

func TestCreateRejectsBadPayloads(t *testing.T) {
	s := newTestServer(t)

	rr := doRequest(s, http.MethodPost, "/api/v1/orders", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(s, http.MethodPost, "/api/v1/orders", `{"number":"900","client_name":"Pedro"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.NotEmpty(t, decodeResponse(t, rr).Error)

	rr = doRequest(s, http.MethodPost, "/api/v1/orders",
		`{"client_name":"Pedro","total_amount":15000,"amount_paid":15000,"payment_status":"partially_paid"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestGetUpdateDelete(t *testing.T) {
	s := newTestServer(t)
	order := createOrder(t, s, `{"client_name":"Pedro","brand":"Makita"}`)
	path := fmt.Sprintf("/api/v1/orders/%d", order.Number)

	rr := doRequest(s, http.MethodGet, path, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(s, http.MethodPut, path, `{"client_name":"Pedro","brand":"Bosch"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(s, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Bosch")

	rr = doRequest(s, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(s, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetUnknownNumberIs404(t *testing.T) {
	s := newTestServer(t)

	rr := doRequest(s, http.MethodGet, "/api/v1/orders/999", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(s, http.MethodGet, "/api/v1/orders/abc", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestListWithSearchFilter(t *testing.T) {
	s := newTestServer(t)
	createOrder(t, s, `{"client_name":"Pedro Soto"}`)
	createOrder(t, s, `{"client_name":"Maria Rojas"}`)

	rr := doRequest(s, http.MethodGet, "/api/v1/orders?search=maria", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Maria Rojas")
	assert.NotContains(t, rr.Body.String(), "Pedro Soto")
}

func TestPeekNextDoesNotConsume(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 2; i++ {
		rr := doRequest(s, http.MethodGet, "/api/v1/orders/next", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"next":727`)
	}

	order := createOrder(t, s, `{"client_name":"Pedro"}`)
	assert.Equal(t, int64(727), order.Number)
}

func TestReconcileEndpoint(t *testing.T) {
	s := newTestServer(t)
	createOrder(t, s, `{"client_name":"Pedro"}`)

	rr := doRequest(s, http.MethodPost, "/api/v1/orders/reconcile", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"value":727`)
}

func TestWipeResetsEverything(t *testing.T) {
	s := newTestServer(t)
	createOrder(t, s, `{"client_name":"Pedro"}`)
	createOrder(t, s, `{"client_name":"Maria"}`)

	rr := doRequest(s, http.MethodDelete, "/api/v1/orders", "")
	require.Equal(t, http.StatusOK, rr.Code)

	order := createOrder(t, s, `{"client_name":"Nuevo"}`)
	assert.Equal(t, int64(727), order.Number)
}

func TestExportCSV(t *testing.T) {
	s := newTestServer(t)
	createOrder(t, s, `{"client_name":"Pedro","total_amount":12500,"payment_status":"paid"}`)

	rr := doRequest(s, http.MethodGet, "/api/v1/orders/export?format=csv", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rr.Body.String(), "Numero,Cliente")
	assert.Contains(t, rr.Body.String(), "Pedro")
	assert.Contains(t, rr.Body.String(), "12.500")
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	s := newTestServer(t)
	rr := doRequest(s, http.MethodGet, "/api/v1/orders/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExportXLSXSetsHeaders(t *testing.T) {
	s := newTestServer(t)
	createOrder(t, s, `{"client_name":"Pedro"}`)

	rr := doRequest(s, http.MethodGet, "/api/v1/orders/export?format=xlsx", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "spreadsheetml")
	assert.NotEmpty(t, rr.Body.Bytes())
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	s := newTestServer(t)
	createOrder(t, s, `{"client_name":"Pedro"}`)
	createOrder(t, s, `{"client_name":"Maria"}`)

	rr := doRequest(s, http.MethodGet, "/api/v1/backup", "")
	require.Equal(t, http.StatusOK, rr.Code)
	backup := rr.Body.String()

	fresh := newTestServer(t)
	rr = doRequest(fresh, http.MethodPost, "/api/v1/backup/restore", backup)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"updated":2`)

	// Restored numbers are retired from allocation.
	order := createOrder(t, fresh, `{"client_name":"Nuevo"}`)
	assert.Equal(t, int64(729), order.Number)
}

func TestSyncStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	rr := doRequest(s, http.MethodGet, "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"remote_configured":false`)
	assert.Contains(t, rr.Body.String(), `"breaker_state":"closed"`)
}
