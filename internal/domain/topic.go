package domain

import (
	"fmt"
	"strings"
)

// Category is the first component of a topic name.
type Category string

const (
	CategoryOrderBook Category = "orderbook"
	CategoryTrades    Category = "trades"
	CategoryTicker    Category = "ticker"
	CategoryBalance   Category = "balance"
	CategoryOrders    Category = "orders"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryOrderBook, CategoryTrades, CategoryTicker, CategoryBalance, CategoryOrders:
		return true
	default:
		return false
	}
}

// Private reports whether subscriptions to c require the scope key to match the subscriber's user.
func (c Category) Private() bool {
	return c == CategoryBalance || c == CategoryOrders
}

const topicSeparator = ":"

// Topic is a broadcast channel name: a category plus an optional scope key
// (instrument, currency or user identifier). Topic is comparable and used directly as a map key.
type Topic struct {
	Category Category
	ScopeKey string
}

// NewTopic validates the category and returns the topic. Surrounding whitespace in
// the scope key is dropped, so every entry point names the same topic.
func NewTopic(category Category, scopeKey string) (Topic, error) {
	if !category.Valid() {
		return Topic{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return Topic{Category: category, ScopeKey: strings.TrimSpace(scopeKey)}, nil
}

// ParseTopic parses "category" or "category:scopeKey".
func ParseTopic(s string) (Topic, error) {
	category, scopeKey, _ := strings.Cut(s, topicSeparator)
	return NewTopic(Category(category), scopeKey)
}

// MustParseTopic is ParseTopic for constant topic names. It panics on error.
func MustParseTopic(s string) Topic {
	t, err := ParseTopic(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Topic) String() string {
	if t.ScopeKey == "" {
		return string(t.Category)
	}
	return string(t.Category) + topicSeparator + t.ScopeKey
}

// AuthorizedFor reports whether a connection authenticated as userID (empty when anonymous)
// may subscribe to t. Public categories are open to everyone; private categories require a
// non-empty userID equal to the scope key.
func (t Topic) AuthorizedFor(userID string) bool {
	if !t.Category.Private() {
		return true
	}
	return userID != "" && t.ScopeKey == userID
}
