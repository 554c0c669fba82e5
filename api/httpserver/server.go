// Package httpserver exposes the order service as a JSON API and serves
// the metrics and depth stream endpoints.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"depthbook/domain/orderbook"
	"depthbook/pkg/ticks"
	"depthbook/service"
)

// Engine is the part of service.OrderService the API drives.
type Engine interface {
	Add(ctx context.Context, r orderbook.Request) (service.AddResult, error)
	Cancel(ctx context.Context, id uint64) error
	Replace(ctx context.Context, r service.ReplaceRequest) (bool, error)
	SetMarketPrice(ctx context.Context, price int64) error
	Depth(n int) orderbook.DepthSnapshot
	MaxDepthLevels() int
	Book() orderbook.BookSnapshot
	Order(id uint64) (orderbook.Order, bool)
	Stats() service.Stats
	CheckInvariants() error
}

type Server struct {
	svc     Engine
	scale   ticks.Scale
	log     *zap.Logger
	metrics http.Handler
	stream  http.Handler
	limiter *RateLimiter
}

type Option func(*Server)

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithDepthStream serves h at /ws/depth.
func WithDepthStream(h http.Handler) Option {
	return func(s *Server) { s.stream = h }
}

// WithRateLimit throttles the /v1 API per client; perSecond <= 0 is a no-op.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.limiter = NewRateLimiter(perSecond, burst)
		}
	}
}

func NewServer(svc Engine, scale ticks.Scale, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{svc: svc, scale: scale, log: log.Named("http")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), AccessLog(s.log), Recovery(s.log))

	r.GET("/healthz", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	if s.stream != nil {
		r.GET("/ws/depth", gin.WrapH(s.stream))
	}

	v1 := r.Group("/v1")
	if s.limiter != nil {
		v1.Use(s.limiter.Middleware())
	}
	v1.POST("/orders", s.placeOrder)
	v1.GET("/orders/:id", s.getOrder)
	v1.PATCH("/orders/:id", s.replaceOrder)
	v1.DELETE("/orders/:id", s.cancelOrder)
	v1.POST("/market-price", s.setMarketPrice)
	v1.GET("/depth", s.getDepth)
	v1.GET("/book", s.getBook)
	v1.GET("/stats", s.getStats)
	return r
}

// Handler is Router as a plain http.Handler.
func (s *Server) Handler() http.Handler {
	return s.Router()
}

func (s *Server) health(c *gin.Context) {
	if err := s.svc.CheckInvariants(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) placeOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	price, err := s.toTicks(req.Price)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	stop, err := s.toTicks(req.StopPrice)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	res, err := s.svc.Add(c.Request.Context(), orderbook.Request{
		ID:                req.OrderID,
		Side:              side,
		Price:             price,
		StopPrice:         stop,
		Quantity:          req.Quantity,
		AllOrNone:         req.AllOrNone,
		ImmediateOrCancel: req.ImmediateOrCancel,
	})
	if err != nil {
		s.commandError(c, err)
		return
	}
	c.JSON(http.StatusCreated, PlaceOrderResponse{OrderID: res.OrderID, Matched: res.Matched})
}

func (s *Server) replaceOrder(c *gin.Context) {
	id, ok := s.orderID(c)
	if !ok {
		return
	}
	var req ReplaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	rr := service.ReplaceRequest{ID: id, Quantity: req.Quantity}
	if req.Price != nil {
		p, err := s.toTicks(*req.Price)
		if err != nil {
			s.fail(c, http.StatusBadRequest, err)
			return
		}
		rr.Price = &p
	}
	matched, err := s.svc.Replace(c.Request.Context(), rr)
	if err != nil {
		s.commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReplaceOrderResponse{OrderID: id, Matched: matched})
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, ok := s.orderID(c)
	if !ok {
		return
	}
	if err := s.svc.Cancel(c.Request.Context(), id); err != nil {
		s.commandError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getOrder(c *gin.Context) {
	id, ok := s.orderID(c)
	if !ok {
		return
	}
	o, found := s.svc.Order(id)
	if !found {
		s.fail(c, http.StatusNotFound, orderbook.ErrNotFound)
		return
	}
	out := Order{
		OrderID:           o.ID,
		Side:              o.Side.String(),
		Type:              o.Type.String(),
		Price:             s.scale.Format(o.Price),
		Quantity:          o.Qty,
		Filled:            o.Filled,
		Remaining:         o.Remaining(),
		Status:            o.Status.String(),
		AllOrNone:         o.AllOrNone,
		ImmediateOrCancel: o.ImmediateOrCancel,
	}
	if o.StopPrice != 0 {
		out.StopPrice = s.scale.Format(o.StopPrice)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) setMarketPrice(c *gin.Context) {
	var req MarketPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	price, err := s.toTicks(req.Price)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.SetMarketPrice(c.Request.Context(), price); err != nil {
		s.commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"market_price": s.scale.Format(price)})
}

func (s *Server) getDepth(c *gin.Context) {
	n := 0
	if v := c.Query("levels"); v != "" {
		var err error
		limit := s.svc.MaxDepthLevels()
		if n, err = strconv.Atoi(v); err != nil || n < 0 || n > limit {
			s.fail(c, http.StatusBadRequest, fmt.Errorf("levels must be an integer between 0 and %d", limit))
			return
		}
	}
	d := s.svc.Depth(n)
	resp := BookResponse{Symbol: s.svc.Stats().Symbol, Bids: []Level{}, Asks: []Level{}}
	for _, l := range d.Bids {
		if !l.Valid {
			break
		}
		resp.Bids = append(resp.Bids, Level{Price: s.scale.Format(l.Price), Quantity: l.Quantity, Orders: l.Orders})
	}
	for _, l := range d.Asks {
		if !l.Valid {
			break
		}
		resp.Asks = append(resp.Asks, Level{Price: s.scale.Format(l.Price), Quantity: l.Quantity, Orders: l.Orders})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getBook(c *gin.Context) {
	b := s.svc.Book()
	resp := BookResponse{
		Symbol: s.svc.Stats().Symbol,
		Bids:   make([]Level, 0, len(b.Bids)),
		Asks:   make([]Level, 0, len(b.Asks)),
	}
	for _, l := range b.Bids {
		resp.Bids = append(resp.Bids, Level{Price: s.scale.Format(l.Price), Quantity: l.Quantity, Orders: l.Orders})
	}
	for _, l := range b.Asks {
		resp.Asks = append(resp.Asks, Level{Price: s.scale.Format(l.Price), Quantity: l.Quantity, Orders: l.Orders})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getStats(c *gin.Context) {
	st := s.svc.Stats()
	resp := StatsResponse{
		Symbol:       st.Symbol,
		LiveOrders:   st.LiveOrders,
		PendingStops: st.PendingStops,
		BidLevels:    st.BidLevels,
		AskLevels:    st.AskLevels,
		LastSeq:      st.LastSeq,
	}
	if st.MarketSet {
		resp.MarketPrice = s.scale.Format(st.MarketPrice)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) toTicks(d decimal.Decimal) (int64, error) {
	return s.scale.FromDecimal(d)
}

func (s *Server) orderID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		s.fail(c, http.StatusBadRequest, errors.New("invalid order id"))
		return 0, false
	}
	return id, true
}

func (s *Server) commandError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orderbook.ErrValidation):
		s.fail(c, http.StatusBadRequest, err)
	case errors.Is(err, orderbook.ErrNotFound):
		s.fail(c, http.StatusNotFound, err)
	case errors.Is(err, service.ErrHalted):
		s.fail(c, http.StatusServiceUnavailable, err)
	default:
		s.fail(c, http.StatusInternalServerError, err)
	}
}

func (s *Server) fail(c *gin.Context, code int, err error) {
	_ = c.Error(err)
	c.JSON(code, gin.H{"error": err.Error()})
}

func parseSide(v string) (orderbook.Side, error) {
	switch strings.ToUpper(v) {
	case "BID", "BUY":
		return orderbook.Bid, nil
	case "ASK", "SELL":
		return orderbook.Ask, nil
	default:
		return 0, errors.New("side must be buy or sell")
	}
}
