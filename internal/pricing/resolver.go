package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Query asks for the base price of one generation.
type Query struct {
	Provider string
	Model    string
	Params   map[string]string
}

// Resolution is the outcome of a successful price lookup.
type Resolution struct {
	Provider     string
	Model        string
	ResourceType string
	// RequestedKey is the key built from the query; Key is the one that matched.
	RequestedKey string
	Key          string
	Fallback     bool
	Price        decimal.Decimal
}

// FallbackHook observes lookups that fell back to the default price.
type FallbackHook func(Resolution)

type Option func(*Resolver)

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func WithFallbackHook(h FallbackHook) Option {
	return func(r *Resolver) { r.onFallback = h }
}

// Resolver maps a Query onto a base USD price.
type Resolver struct {
	table      Table
	logger     *zap.Logger
	onFallback FallbackHook
}

func NewResolver(table Table, opts ...Option) *Resolver {
	r := &Resolver{table: table, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog lists the priced models per provider.
func (r *Resolver) Catalog() map[string][]string {
	out := make(map[string][]string)
	for _, p := range r.table.Providers() {
		out[p] = r.table.Models(p)
	}
	return out
}

// Resolve looks up the exact key first and then the entry's "default" price.
// A default hit is reported through the logger and hook, never as an error.
func (r *Resolver) Resolve(q Query) (Resolution, error) {
	entry, err := r.table.Entry(q.Provider, q.Model)
	if err != nil {
		return Resolution{}, err
	}

	key := BuildKey(q.Params)
	res := Resolution{
		Provider:     entry.Provider,
		Model:        entry.Model,
		ResourceType: entry.ResourceType,
		RequestedKey: key,
		Key:          key,
	}

	if price, ok := entry.Price(key); ok {
		res.Price = price
		return res, nil
	}

	price, ok := entry.Price(DefaultKey)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: model %q with key %q and no %q fallback",
			ErrNoPricingConfigured, entry.Model, key, DefaultKey)
	}

	res.Key = DefaultKey
	res.Fallback = true
	res.Price = price

	r.logger.Warn("pricing key not configured, using default price",
		zap.String("provider", entry.Provider),
		zap.String("model", entry.Model),
		zap.String("key", key),
		zap.String("price_usd", price.String()),
	)
	if r.onFallback != nil {
		r.onFallback(res)
	}
	return res, nil
}
