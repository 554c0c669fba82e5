// Package orderbook implements a single-instrument limit order book with
// strict price-time priority.
//
// Prices and quantities are integer ticks. A zero price submits a market
// order; a non-zero stop price holds the order until the market price
// (the last trade, or a seeded price) reaches the trigger. Orders may be
// all-or-none, immediate-or-cancel, or both.
//
// The book is single-writer. Every command runs to completion,
// including any stop cascade it causes, before the next one starts, and
// all events are delivered synchronously to the configured Listener.
// Callers that need concurrent access wrap the book in their own lock.
package orderbook
