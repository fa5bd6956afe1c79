package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/freyr/offer/offer"
	"github.com/freyr/offer/order"
	"github.com/freyr/offer/payment"
	"github.com/freyr/offer/saga"
	"github.com/freyr/offer/stock"
)

func newTestServer(t *testing.T) (*RESTServer, *order.MemoryStatusProjection) {
	t.Helper()
	fabric := saga.NewFabric(nil)
	projection := order.NewMemoryStatusProjection()
	order.WireChain(fabric, order.Wiring{
		PaymentGateway: payment.NewStubGateway(),
		StockGateway:   stock.NewStubGateway(),
		PaymentRecords: saga.NewMemoryStateStore[payment.Record](),
		StockRecords:   saga.NewMemoryStateStore[stock.Record](),
		Projection:     projection,
	})
	return NewRESTServer(DefaultRESTConfig(), fabric, projection, offer.NewMemoryStore(), nil), projection
}

func TestPlaceOrderAcceptedAndDrivenToTerminalState(t *testing.T) {
	server, projection := newTestServer(t)

	body := `{"customer_id":"` + uuid.NewString() + `","product_id":"` + uuid.NewString() + `","quantity":1,"amount_cents":1000,"currency":"EUR"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		OrderID       uuid.UUID `json:"order_id"`
		CorrelationID uuid.UUID `json:"correlation_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEqual(t, uuid.Nil, resp.OrderID)
	require.Equal(t, resp.OrderID, resp.CorrelationID, "the order ID is the saga's correlation ID")

	// The synchronous test wiring runs the saga to completion before the
	// response returns.
	status, found, err := projection.Get(context.Background(), resp.OrderID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, order.StateConfirmed, status.State)
}

func TestPlaceOrderValidatesBody(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"quantity":0}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderStatusDefaultsToAcceptedWhileInFlight(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status order.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, order.StateAccepted, status.State)
}

func TestOrderOfferNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+uuid.NewString()+"/offer", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
