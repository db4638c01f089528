package extract

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/housedata-crawler/internal/document"
	"github.com/JakeFAU/housedata-crawler/internal/store"
)

// KeyValueTable reads a table whose matching rows hold a label in the first
// cell and a value in the second. All rows of a page form one record.
type KeyValueTable struct {
	RowTag   string
	RowAttrs map[string]string
	CellTag  string
	// Columns maps labels to column names. When set, unmapped labels are
	// dropped; when nil, labels are used as column names.
	Columns map[string]string
	// Static columns are added to every record.
	Static map[string]string

	logger *zap.Logger
}

// NewKeyValueTable builds the extractor, defaulting to tr rows and td cells.
func NewKeyValueTable(p Params, logger *zap.Logger) *KeyValueTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	kv := &KeyValueTable{
		RowTag:   p.RowTag,
		RowAttrs: p.RowAttrs,
		CellTag:  p.CellTag,
		Columns:  p.Columns,
		Static:   p.Static,
		logger:   logger.Named("kv_table"),
	}
	if kv.RowTag == "" {
		kv.RowTag = "tr"
	}
	if kv.CellTag == "" {
		kv.CellTag = "td"
	}
	return kv
}

// BeijingDaily reads the Beijing housing commission's daily transaction
// summary.
func BeijingDaily(logger *zap.Logger) *KeyValueTable {
	return NewKeyValueTable(Params{
		RowAttrs: map[string]string{"bgcolor": "#F9F4E8"},
		Static:   map[string]string{"city": "beijing"},
	}, logger)
}

// Extract implements Extractor.
func (kv *KeyValueTable) Extract(doc *document.Document) ([]store.Record, error) {
	if doc == nil {
		return nil, fmt.Errorf("extract: nil document")
	}
	rows := doc.FindAll(kv.RowTag, kv.RowAttrs)
	if len(rows) == 0 {
		return nil, ErrNoMatches
	}

	rec := store.Record{}
	for i, row := range rows {
		cells := row.FindAll(kv.CellTag, nil)
		if len(cells) < 2 {
			kv.logger.Warn("row has fewer cells than expected, skipping",
				zap.Int("row", i),
				zap.Int("cells", len(cells)),
			)
			continue
		}
		label := cells[0].Text()
		column, ok := kv.column(label)
		if !ok {
			kv.logger.Debug("unmapped label", zap.String("label", label))
			continue
		}
		rec[column] = cells[1].Text()
	}
	if len(rec) == 0 {
		return nil, ErrNoMatches
	}
	for k, v := range kv.Static {
		rec[k] = v
	}
	return []store.Record{rec}, nil
}

func (kv *KeyValueTable) column(label string) (string, bool) {
	if label == "" {
		return "", false
	}
	if kv.Columns == nil {
		return label, true
	}
	col, ok := kv.Columns[label]
	return col, ok
}
