package preview

import (
	"sort"
)

// Strategy selects how an oversized value is bounded.
type Strategy string

const (
	// StrategySample selects an evenly spaced subset of elements.
	StrategySample Strategy = "sample"
	// StrategyPaginate splits into fixed-size pages.
	StrategyPaginate Strategy = "paginate"
	// StrategyTruncate cuts the string rendering at the size limit.
	StrategyTruncate Strategy = "truncate"
)

// Defaults when the config leaves fields zero.
const (
	DefaultMaxSize  = 1000
	DefaultPageSize = 50
)

// Config configures preview generation. Zero fields inherit from the
// next configuration level: per-call options override per-tool
// defaults, which override the server-wide default.
type Config struct {
	// MaxSize is the measured-size threshold. Values at or below it
	// are returned verbatim.
	MaxSize int

	// Strategy applies to oversized sequence and mapping values.
	// Scalars always truncate regardless.
	Strategy Strategy

	// PageSize is used by the paginate strategy.
	PageSize int

	// IncludeEdges makes sampling always keep the first and last
	// element.
	IncludeEdges bool
}

// Merge overlays override onto c: any non-zero field of override
// wins. This implements the call > tool > server priority chain.
func (c Config) Merge(override Config) Config {
	if override.MaxSize > 0 {
		c.MaxSize = override.MaxSize
	}
	if override.Strategy != "" {
		c.Strategy = override.Strategy
	}
	if override.PageSize > 0 {
		c.PageSize = override.PageSize
	}
	if override.IncludeEdges {
		c.IncludeEdges = true
	}
	return c
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.Strategy == "" {
		c.Strategy = StrategySample
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	return c
}

// Preview is a size-bounded representation of a value.
type Preview struct {
	// Value is the bounded representation: the original value when it
	// fits, a sampled subset, a *Page, or a truncated string.
	Value any `json:"value"`

	// Truncated reports whether Value is smaller than the original.
	Truncated bool `json:"truncated"`

	// Strategy is the strategy that produced Value; empty when the
	// value passed through verbatim.
	Strategy Strategy `json:"strategy,omitempty"`

	// TotalItems is the original element count for collection values.
	TotalItems int `json:"total_items,omitempty"`
}

// Generator produces previews under a measurer and default config.
type Generator struct {
	measurer Measurer
	defaults Config
}

// NewGenerator creates a generator. The config acts as the server-wide
// default level.
func NewGenerator(measurer Measurer, defaults Config) *Generator {
	return &Generator{measurer: measurer, defaults: defaults.withDefaults()}
}

// Measurer returns the generator's measurer.
func (g *Generator) Measurer() Measurer {
	return g.measurer
}

// Generate produces a bounded preview of value. Overrides are merged
// onto the generator defaults in order, so callers can layer per-tool
// and per-call configuration.
func (g *Generator) Generate(value any, overrides ...Config) (*Preview, error) {
	cfg := g.defaults
	for _, o := range overrides {
		cfg = cfg.Merge(o)
	}
	cfg = cfg.withDefaults()

	size := g.measurer.Measure(value)
	items, isCollection := itemsOf(value)
	totalItems := 0
	if isCollection {
		totalItems = len(items)
	}

	if size <= cfg.MaxSize {
		return &Preview{Value: value, TotalItems: totalItems}, nil
	}

	if !isCollection {
		// Non-collection scalars always truncate.
		return &Preview{
			Value:      truncateText(Render(value), cfg.MaxSize, g.measurer),
			Truncated:  true,
			Strategy:   StrategyTruncate,
			TotalItems: 0,
		}, nil
	}

	switch cfg.Strategy {
	case StrategyPaginate:
		page, err := paginateItems(items, 1, cfg.PageSize)
		if err != nil {
			return nil, err
		}
		return &Preview{Value: page, Truncated: page.HasNext, Strategy: StrategyPaginate, TotalItems: totalItems}, nil
	case StrategyTruncate:
		return &Preview{
			Value:      truncateText(Render(value), cfg.MaxSize, g.measurer),
			Truncated:  true,
			Strategy:   StrategyTruncate,
			TotalItems: totalItems,
		}, nil
	default:
		sampled := g.sample(items, cfg)
		return &Preview{Value: sampled, Truncated: true, Strategy: StrategySample, TotalItems: totalItems}, nil
	}
}

// Paginate returns page N of a sequence or mapping value.
func (g *Generator) Paginate(value any, page, pageSize int) (*Page, error) {
	if pageSize == 0 {
		pageSize = g.defaults.PageSize
	}
	items, ok := itemsOf(value)
	if !ok {
		return nil, ErrNotPageable
	}
	return paginateItems(items, page, pageSize)
}

// itemsOf extracts the element sequence of a collection value.
// Sequences yield their elements; mappings yield key-sorted
// {"key","value"} items. Scalars yield (nil, false).
func itemsOf(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]any, len(keys))
		for i, k := range keys {
			items[i] = map[string]any{"key": k, "value": v[k]}
		}
		return items, true
	default:
		return nil, false
	}
}
