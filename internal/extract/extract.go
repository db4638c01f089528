// Package extract turns parsed pages into store records.
package extract

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/housedata-crawler/internal/document"
	"github.com/JakeFAU/housedata-crawler/internal/store"
)

// ErrNoMatches is returned when a page holds none of the rows an extractor
// looks for, which usually means the layout changed.
var ErrNoMatches = errors.New("extract: no matching rows")

// Extractor pulls records out of one page.
type Extractor interface {
	Extract(doc *document.Document) ([]store.Record, error)
}

// Params configures an extractor built from the registry.
type Params struct {
	RowTag   string
	RowAttrs map[string]string
	CellTag  string
	Columns  map[string]string
	Static   map[string]string
}

// Factory builds an extractor from params.
type Factory func(p Params, logger *zap.Logger) (Extractor, error)

// Registry maps extractor names to factories.
type Registry map[string]Factory

// DefaultRegistry returns the built-in extractors.
func DefaultRegistry() Registry {
	return Registry{
		"kv_table": func(p Params, logger *zap.Logger) (Extractor, error) {
			return NewKeyValueTable(p, logger), nil
		},
		"beijing_daily": func(p Params, logger *zap.Logger) (Extractor, error) {
			kv := BeijingDaily(logger)
			kv.Columns = p.Columns
			kv.Static = mergeStatic(kv.Static, p.Static)
			return kv, nil
		},
	}
}

// Build looks up name and constructs the extractor.
func (r Registry) Build(name string, p Params, logger *zap.Logger) (Extractor, error) {
	factory, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("unknown extractor %q (known: %v)", name, r.Names())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return factory(p, logger)
}

// Names lists the registered extractors in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func mergeStatic(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
