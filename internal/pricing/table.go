package pricing

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed pricing.yaml
var defaultTableYAML []byte

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrUnsupportedModel    = errors.New("unsupported model")
	ErrNoPricingConfigured = errors.New("no pricing configured")
)

// Entry holds the prices of one (provider, model) pair keyed by canonical pricing key.
type Entry struct {
	Provider     string
	Model        string
	Media        string
	ResourceType string
	Prices       map[string]decimal.Decimal
}

func (e Entry) Price(key string) (decimal.Decimal, bool) {
	p, ok := e.Prices[key]
	return p, ok
}

// Table is the read-only source of pricing entries. Implementations must be safe
// for concurrent use and must not change after construction.
type Table interface {
	Entry(provider, model string) (Entry, error)
	Providers() []string
	Models(provider string) []string
}

// StaticTable is an in-memory Table built once at startup.
type StaticTable struct {
	entries map[string]map[string]Entry
}

// NewStaticTable validates entries and indexes them by provider and model.
func NewStaticTable(entries []Entry) (*StaticTable, error) {
	t := &StaticTable{entries: make(map[string]map[string]Entry)}
	for _, e := range entries {
		provider := NormalizeProvider(e.Provider)
		if provider == "" || e.Model == "" {
			return nil, fmt.Errorf("pricing entry needs provider and model: %+v", e)
		}
		if len(e.Prices) == 0 {
			return nil, fmt.Errorf("pricing entry %s/%s has no prices", provider, e.Model)
		}
		prices := make(map[string]decimal.Decimal, len(e.Prices))
		for key, price := range e.Prices {
			if price.IsNegative() {
				return nil, fmt.Errorf("pricing entry %s/%s key %q: negative price %s", provider, e.Model, key, price)
			}
			prices[key] = price
		}
		models, ok := t.entries[provider]
		if !ok {
			models = make(map[string]Entry)
			t.entries[provider] = models
		}
		if _, dup := models[e.Model]; dup {
			return nil, fmt.Errorf("duplicate pricing entry %s/%s", provider, e.Model)
		}
		e.Provider = provider
		e.Prices = prices
		models[e.Model] = e
	}
	return t, nil
}

func (t *StaticTable) Entry(provider, model string) (Entry, error) {
	provider = NormalizeProvider(provider)
	models, ok := t.entries[provider]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	e, ok := models[model]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q under provider %q", ErrUnsupportedModel, model, provider)
	}
	return e, nil
}

// Providers lists configured provider identifiers in sorted order.
func (t *StaticTable) Providers() []string {
	out := make([]string, 0, len(t.entries))
	for p := range t.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Models lists the models configured for provider in sorted order.
func (t *StaticTable) Models(provider string) []string {
	models := t.entries[NormalizeProvider(provider)]
	out := make([]string, 0, len(models))
	for m := range models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

type fileEntry struct {
	Model        string             `yaml:"model"`
	Media        string             `yaml:"media"`
	ResourceType string             `yaml:"resource_type"`
	Pricing      map[string]float64 `yaml:"pricing"`
}

type fileTable struct {
	Providers map[string][]fileEntry `yaml:"providers"`
}

// LoadYAML parses a pricing table document.
func LoadYAML(r io.Reader) (*StaticTable, error) {
	var doc fileTable
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode pricing table: %w", err)
	}

	var entries []Entry
	for provider, models := range doc.Providers {
		for _, m := range models {
			prices := make(map[string]decimal.Decimal, len(m.Pricing))
			for key, usd := range m.Pricing {
				prices[key] = decimal.NewFromFloat(usd)
			}
			entries = append(entries, Entry{
				Provider:     provider,
				Model:        m.Model,
				Media:        m.Media,
				ResourceType: m.ResourceType,
				Prices:       prices,
			})
		}
	}
	return NewStaticTable(entries)
}

// LoadFile reads a pricing table from path.
func LoadFile(path string) (*StaticTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pricing table: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadYAML(f)
}

// Default returns the pricing table compiled into the binary.
func Default() (*StaticTable, error) {
	return LoadYAML(bytes.NewReader(defaultTableYAML))
}
