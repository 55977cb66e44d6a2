// Package events gives domain collaborators (order matcher, price feed, account ledger)
// typed publish calls. Each call picks the topic or user and the event type for its payload.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
)

// ErrMissingTarget is returned when an event lacks the market, symbol or user it is routed by.
var ErrMissingTarget = errors.New("event has no routing target")

// PriceLevel is one aggregated order book row. Decimal values are strings to keep precision.
type PriceLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type OrderBook struct {
	MarketID string       `json:"marketId"`
	Bids     []PriceLevel `json:"bids"`
	Asks     []PriceLevel `json:"asks"`
	Sequence int64        `json:"sequence"`
}

type Trade struct {
	ID         string    `json:"id"`
	MarketID   string    `json:"marketId"`
	Price      string    `json:"price"`
	Quantity   string    `json:"quantity"`
	Side       string    `json:"side"`
	ExecutedAt time.Time `json:"executedAt"`
}

type Ticker struct {
	MarketID  string `json:"marketId"`
	LastPrice string `json:"lastPrice"`
	Change24h string `json:"change24h"`
	Volume24h string `json:"volume24h"`
	High24h   string `json:"high24h,omitempty"`
	Low24h    string `json:"low24h,omitempty"`
}

// PriceQuote is a single price point for a currency or instrument.
type PriceQuote struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type Balance struct {
	UserID    string `json:"userId"`
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

type Order struct {
	OrderID        string `json:"orderId"`
	UserID         string `json:"userId"`
	MarketID       string `json:"marketId"`
	Side           string `json:"side"`
	Status         string `json:"status"`
	Price          string `json:"price,omitempty"`
	Quantity       string `json:"quantity"`
	FilledQuantity string `json:"filledQuantity"`
}

// Publisher maps domain events onto a Broadcaster.
type Publisher struct {
	broadcaster domain.Broadcaster
}

func NewPublisher(broadcaster domain.Broadcaster) *Publisher {
	return &Publisher{broadcaster: broadcaster}
}

// OrderBookUpdated pushes a book snapshot to orderbook:<market>.
func (p *Publisher) OrderBookUpdated(ctx context.Context, book OrderBook) error {
	return p.toTopic(ctx, domain.CategoryOrderBook, book.MarketID, domain.EventOrderBookUpdate, book)
}

// TradeExecuted pushes a trade to trades:<market>.
func (p *Publisher) TradeExecuted(ctx context.Context, trade Trade) error {
	return p.toTopic(ctx, domain.CategoryTrades, trade.MarketID, domain.EventTradeExecuted, trade)
}

// TickerUpdated pushes a ticker to ticker:<market> and to the all-markets ticker topic.
func (p *Publisher) TickerUpdated(ctx context.Context, ticker Ticker) error {
	if err := p.toTopic(ctx, domain.CategoryTicker, ticker.MarketID, domain.EventPriceUpdate, ticker); err != nil {
		return err
	}
	return p.publishTopic(ctx, domain.Topic{Category: domain.CategoryTicker}, domain.EventPriceUpdate, ticker)
}

// PriceUpdated pushes a bare quote to ticker:<symbol>.
func (p *Publisher) PriceUpdated(ctx context.Context, quote PriceQuote) error {
	return p.toTopic(ctx, domain.CategoryTicker, quote.Symbol, domain.EventPriceUpdate, quote)
}

// BalanceUpdated pushes to every session of the balance owner.
func (p *Publisher) BalanceUpdated(ctx context.Context, balance Balance) error {
	return p.toUser(ctx, balance.UserID, domain.EventBalanceUpdate, balance)
}

// OrderUpdated pushes an order status change to its owner. Fully filled orders
// are sent as order_filled.
func (p *Publisher) OrderUpdated(ctx context.Context, order Order) error {
	eventType := domain.EventOrderUpdate
	if order.Status == "filled" {
		eventType = domain.EventOrderFilled
	}
	return p.toUser(ctx, order.UserID, eventType, order)
}

func (p *Publisher) toTopic(ctx context.Context, category domain.Category, scopeKey string, eventType domain.EventType, payload any) error {
	if strings.TrimSpace(scopeKey) == "" {
		return fmt.Errorf("publish %s to %s: %w", eventType, category, ErrMissingTarget)
	}
	topic, err := domain.NewTopic(category, scopeKey)
	if err != nil {
		return err
	}
	return p.publishTopic(ctx, topic, eventType, payload)
}

func (p *Publisher) publishTopic(ctx context.Context, topic domain.Topic, eventType domain.EventType, payload any) error {
	if err := p.broadcaster.PublishToTopic(ctx, topic, eventType, payload); err != nil {
		return fmt.Errorf("publish %s to %s: %w", eventType, topic, err)
	}
	return nil
}

func (p *Publisher) toUser(ctx context.Context, userID string, eventType domain.EventType, payload any) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("publish %s: %w", eventType, ErrMissingTarget)
	}
	if err := p.broadcaster.PublishToUser(ctx, userID, eventType, payload); err != nil {
		return fmt.Errorf("publish %s to user %s: %w", eventType, userID, err)
	}
	return nil
}
