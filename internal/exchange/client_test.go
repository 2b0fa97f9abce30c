package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvrosca/stakepilot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type venueFixture struct {
	identity *httptest.Server
	api      *httptest.Server
	gateway  *Gateway
	logins   atomic.Int32
}

// newVenueFixture wires a Gateway against stub identity and API servers.
// handle routes API calls by endpoint name.
func newVenueFixture(t *testing.T, handle func(endpoint string, w http.ResponseWriter, r *http.Request)) *venueFixture {
	t.Helper()
	f := &venueFixture{}

	f.identity = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		require.Equal(t, "app-key-1", r.Header.Get("X-Application"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"sessionToken": "tok-1", "loginStatus": "SUCCESS",
		})
	}))
	t.Cleanup(f.identity.Close)

	f.api = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		endpoint = endpoint[1 : len(endpoint)-1] // strip surrounding slashes
		handle(endpoint, w, r)
	}))
	t.Cleanup(f.api.Close)

	creds := NewStaticSource()
	require.NoError(t, creds.Add("cred-1", "app-key-1", "user", "pass", "", "", "", ""))

	f.gateway = NewGateway(Config{
		IdentityURL:  f.identity.URL,
		KeepAliveURL: f.identity.URL,
		APIURL:       f.api.URL,
		Timeout:      5 * time.Second,
	}, creds, testLogger())
	return f
}

func TestGateway_PlaceOrder_Acknowledged(t *testing.T) {
	f := newVenueFixture(t, func(endpoint string, w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "placeOrders", endpoint)
		assert.Equal(t, "tok-1", r.Header.Get("X-Authentication"))

		var req placeOrdersRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Instructions, 1)
		assert.Equal(t, "20.00", req.Instructions[0].LimitOrder.Size)
		assert.Equal(t, "BACK", req.Instructions[0].Side)
		assert.Equal(t, "LAPSE", req.Instructions[0].LimitOrder.PersistenceType)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "SUCCESS",
			"instructionReports": []map[string]any{
				{"status": "SUCCESS", "betId": "bet-77", "sizeMatched": 20.0},
			},
		})
	})

	ack, err := f.gateway.PlaceOrder(context.Background(), "cred-1", domain.OrderRequest{
		MarketID: "mk-1", SelectionID: "s1", Stake: 20, Price: 1.8, Reference: "w1",
	})
	require.NoError(t, err)
	assert.Equal(t, "bet-77", ack.OrderID)
	assert.True(t, ack.Matched)
}

func TestGateway_PlaceOrder_RejectionIsNotAnError(t *testing.T) {
	f := newVenueFixture(t, func(endpoint string, w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "FAILURE",
			"instructionReports": []map[string]any{
				{"status": "FAILURE", "errorCode": "INSUFFICIENT_FUNDS"},
			},
		})
	})

	ack, err := f.gateway.PlaceOrder(context.Background(), "cred-1", domain.OrderRequest{
		MarketID: "mk-1", SelectionID: "s1", Stake: 5, Price: 2.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "INSUFFICIENT_FUNDS", ack.RejectionCode)
	assert.Empty(t, ack.OrderID)
}

func TestGateway_ExpiredSessionTriggersOneRelogin(t *testing.T) {
	var calls atomic.Int32
	f := newVenueFixture(t, func(endpoint string, w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"detail": map[string]any{
					"APINGException": map[string]string{"errorCode": "INVALID_SESSION_INFORMATION"},
				},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"clearedOrders": []any{}})
	})

	_, err := f.gateway.ListSettledOrders(context.Background(), "cred-1", time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 2, f.logins.Load())
}

func TestGateway_ServerErrorMapsToExchangeUnavailable(t *testing.T) {
	f := newVenueFixture(t, func(endpoint string, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := f.gateway.ListEvents(context.Background(), "cred-1", "Arsenal")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExchangeUnavailable)
}

func TestGateway_ListSettledOrders_MapsPayoff(t *testing.T) {
	settledAt := time.Date(2026, 8, 20, 18, 0, 0, 0, time.UTC)
	f := newVenueFixture(t, func(endpoint string, w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "listClearedOrders", endpoint)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"clearedOrders": []map[string]any{
				{"betId": "bet-1", "profit": -5.0, "settledDate": settledAt.Format(time.RFC3339)},
				{"betId": "bet-2", "profit": 12.5, "settledDate": settledAt.Format(time.RFC3339)},
			},
		})
	})

	orders, err := f.gateway.ListSettledOrders(context.Background(), "cred-1", time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, -5.0, orders[0].Payoff)
	assert.Equal(t, 12.5, orders[1].Payoff)
	assert.Equal(t, settledAt, orders[1].SettledAt)
}

func TestGateway_GetQuote_JoinsCatalogueAndBook(t *testing.T) {
	f := newVenueFixture(t, func(endpoint string, w http.ResponseWriter, r *http.Request) {
		switch endpoint {
		case "listMarketCatalogue":
			_ = json.NewEncoder(w).Encode([]map[string]any{{
				"marketId": "mk-1",
				"runners": []map[string]any{
					{"selectionId": 101, "runnerName": "Arsenal"},
					{"selectionId": 102, "runnerName": "Chelsea"},
				},
			}})
		case "listMarketBook":
			_ = json.NewEncoder(w).Encode([]map[string]any{{
				"marketId": "mk-1",
				"runners": []map[string]any{
					{"selectionId": 101, "ex": map[string]any{
						"availableToBack": []map[string]any{{"price": 1.85, "size": 100.0}},
					}},
				},
			}})
		default:
			t.Errorf("unexpected endpoint %s", endpoint)
		}
	})

	selections, err := f.gateway.GetQuote(context.Background(), "cred-1", "mk-1")
	require.NoError(t, err)
	require.Len(t, selections, 2)
	assert.Equal(t, "101", selections[0].SelectionID)
	assert.Equal(t, 1.85, selections[0].Price)
	// Chelsea has no offered back price; the zero price survives the join.
	assert.Zero(t, selections[1].Price)
}
