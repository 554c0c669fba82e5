package httpserver

import "github.com/shopspring/decimal"

// PlaceOrderRequest leaves Price unset (or zero) for a market order.
type PlaceOrderRequest struct {
	OrderID           uint64          `json:"order_id,string,omitempty"`
	Side              string          `json:"side" binding:"required"`
	Price             decimal.Decimal `json:"price"`
	StopPrice         decimal.Decimal `json:"stop_price"`
	Quantity          int64           `json:"quantity" binding:"required"`
	AllOrNone         bool            `json:"all_or_none"`
	ImmediateOrCancel bool            `json:"immediate_or_cancel"`
}

type PlaceOrderResponse struct {
	OrderID uint64 `json:"order_id,string"`
	Matched bool   `json:"matched"`
}

// ReplaceOrderRequest changes only the fields that are present.
type ReplaceOrderRequest struct {
	Price    *decimal.Decimal `json:"price"`
	Quantity *int64           `json:"quantity"`
}

type ReplaceOrderResponse struct {
	OrderID uint64 `json:"order_id,string"`
	Matched bool   `json:"matched"`
}

type MarketPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type Order struct {
	OrderID           uint64 `json:"order_id,string"`
	Side              string `json:"side"`
	Type              string `json:"type"`
	Price             string `json:"price"`
	StopPrice         string `json:"stop_price,omitempty"`
	Quantity          int64  `json:"quantity"`
	Filled            int64  `json:"filled"`
	Remaining         int64  `json:"remaining"`
	Status            string `json:"status"`
	AllOrNone         bool   `json:"all_or_none"`
	ImmediateOrCancel bool   `json:"immediate_or_cancel"`
}

type Level struct {
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
	Orders   int    `json:"orders"`
}

type BookResponse struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
}

type StatsResponse struct {
	Symbol       string `json:"symbol"`
	LiveOrders   int    `json:"live_orders"`
	PendingStops int    `json:"pending_stops"`
	BidLevels    int    `json:"bid_levels"`
	AskLevels    int    `json:"ask_levels"`
	MarketPrice  string `json:"market_price,omitempty"`
	LastSeq      uint64 `json:"last_seq"`
}
