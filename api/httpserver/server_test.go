package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"depthbook/infra/metrics"
	entrywal "depthbook/infra/wal/entry"
	"depthbook/pkg/ticks"
	"depthbook/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	t       *testing.T
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	wal, err := entrywal.Open(entrywal.Config{Dir: filepath.Join(t.TempDir(), "entry")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = wal.Close() })

	m := metrics.New("test", "ETH-USD")
	svc := service.NewOrderService(service.Options{Symbol: "ETH-USD", DepthSize: 5}, wal, nil, m, zaptest.NewLogger(t))
	srv := NewServer(svc, ticks.Scale(2), zaptest.NewLogger(t), WithMetrics(m.Handler()))
	return &harness{t: t, handler: srv.Handler()}
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestOrderLifecycle(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/v1/orders", map[string]any{"side": "sell", "price": "2500.10", "quantity": 8})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decode[PlaceOrderResponse](t, rec)
	assert.Equal(t, uint64(1), placed.OrderID)

	rec = h.do(http.MethodPost, "/v1/orders", map[string]any{"side": "buy", "price": "2500.10", "quantity": 3})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, decode[PlaceOrderResponse](t, rec).Matched)

	rec = h.do(http.MethodGet, "/v1/orders/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	o := decode[Order](t, rec)
	assert.Equal(t, "2500.10", o.Price)
	assert.Equal(t, int64(5), o.Remaining)
	assert.Equal(t, "PARTIALLY_FILLED", o.Status)

	rec = h.do(http.MethodPatch, "/v1/orders/1", map[string]any{"price": "2501"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, "/v1/depth?levels=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	depth := decode[BookResponse](t, rec)
	assert.Equal(t, "ETH-USD", depth.Symbol)
	assert.Empty(t, depth.Bids)
	require.Len(t, depth.Asks, 1)
	assert.Equal(t, Level{Price: "2501.00", Quantity: 5, Orders: 1}, depth.Asks[0])

	rec = h.do(http.MethodDelete, "/v1/orders/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodDelete, "/v1/orders/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/v1/book", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	book := decode[BookResponse](t, rec)
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)
}

func TestBadRequests(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
	}{
		{"unknown side", http.MethodPost, "/v1/orders", map[string]any{"side": "hold", "price": "1", "quantity": 1}, http.StatusBadRequest},
		{"sub-tick price", http.MethodPost, "/v1/orders", map[string]any{"side": "buy", "price": "1.005", "quantity": 1}, http.StatusBadRequest},
		{"missing quantity", http.MethodPost, "/v1/orders", map[string]any{"side": "buy", "price": "1"}, http.StatusBadRequest},
		{"negative quantity", http.MethodPost, "/v1/orders", map[string]any{"side": "buy", "price": "1", "quantity": -2}, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/v1/orders/abc", nil, http.StatusBadRequest},
		{"unknown order", http.MethodGet, "/v1/orders/99", nil, http.StatusNotFound},
		{"replace unknown", http.MethodPatch, "/v1/orders/99", map[string]any{"quantity": 1}, http.StatusNotFound},
		{"zero market price", http.MethodPost, "/v1/market-price", map[string]any{"price": "0"}, http.StatusBadRequest},
		{"bad levels", http.MethodGet, "/v1/depth?levels=x", nil, http.StatusBadRequest},
		{"negative levels", http.MethodGet, "/v1/depth?levels=-1", nil, http.StatusBadRequest},
		{"levels above limit", http.MethodGet, "/v1/depth?levels=1001", nil, http.StatusBadRequest},
		{"huge levels", http.MethodGet, "/v1/depth?levels=500000000", nil, http.StatusBadRequest},
		{"levels at limit", http.MethodGet, "/v1/depth?levels=1000", nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(tc.method, tc.path, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
}

func TestMarketPriceAndStats(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/v1/orders", map[string]any{"side": "buy", "stop_price": "10.50", "price": "11", "quantity": 2})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(http.MethodPost, "/v1/market-price", map[string]any{"price": "10"})
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decode[StatsResponse](t, h.do(http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, 1, stats.PendingStops)
	assert.Equal(t, "10.00", stats.MarketPrice)
	assert.Equal(t, uint64(2), stats.LastSeq)

	rec = h.do(http.MethodPost, "/v1/market-price", map[string]any{"price": "10.50"})
	require.Equal(t, http.StatusOK, rec.Code)

	stats = decode[StatsResponse](t, h.do(http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, 0, stats.PendingStops)
	assert.Equal(t, 1, stats.BidLevels)
}

func TestHealthMetricsAndRequestID(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodPost, "/v1/orders", map[string]any{"side": "buy", "price": "1", "quantity": 1})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))

	rec = h.do(http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = h.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_")
}

func TestRateLimitPerClient(t *testing.T) {
	wal, err := entrywal.Open(entrywal.Config{Dir: filepath.Join(t.TempDir(), "entry")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = wal.Close() })
	svc := service.NewOrderService(service.Options{Symbol: "ETH-USD"}, wal, nil, nil, nil)
	handler := NewServer(svc, ticks.Scale(2), nil, WithRateLimit(0.001, 2)).Handler()

	get := func(client string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		req.Header.Set("X-Client-ID", client)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("a"))
	assert.Equal(t, http.StatusOK, get("a"))
	assert.Equal(t, http.StatusTooManyRequests, get("a"))
	assert.Equal(t, http.StatusOK, get("b"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Client-ID", "a")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
