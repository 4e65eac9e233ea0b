// Package knowledge answers free-text problem descriptions from a corpus of
// resolved tickets using embedding similarity.
package knowledge

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
)

// Entry is one resolved ticket from the corpus.
type Entry struct {
	ID          string
	Category    string
	Priority    string
	Description string
	Resolution  string
}

// Text renders the entry the way it is shown to the model.
func (e Entry) Text() string {
	return fmt.Sprintf("Ticket ID: %s.\nCategory: %s.\nPriority Level: %s.\nDescription: %s.\nResolution: %s.",
		e.ID, e.Category, e.Priority, e.Description, e.Resolution)
}

var corpusColumns = map[string]string{
	"ticket_id":      "id",
	"id":             "id",
	"category":       "category",
	"priority_level": "priority",
	"priority":       "priority",
	"description":    "description",
	"resolution":     "resolution",
}

// LoadCorpus reads a corpus file through the document loader and parses it as CSV.
func LoadCorpus(ctx context.Context, path string) ([]Entry, error) {
	p, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("corpus parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      p,
	})
	if err != nil {
		return nil, fmt.Errorf("corpus loader: %w", err)
	}
	docs, err := loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return nil, fmt.Errorf("load corpus %s: %w", path, err)
	}
	var b strings.Builder
	for _, doc := range docs {
		b.WriteString(doc.Content)
		if !strings.HasSuffix(doc.Content, "\n") {
			b.WriteString("\n")
		}
	}
	return ParseCorpus(strings.NewReader(b.String()))
}

// ParseCorpus parses CSV with a header row. description and resolution are
// required columns; rows missing either are skipped.
func ParseCorpus(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("corpus is empty")
		}
		return nil, fmt.Errorf("corpus header: %w", err)
	}
	cols := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF")))
		if field, ok := corpusColumns[key]; ok {
			if _, seen := cols[field]; !seen {
				cols[field] = i
			}
		}
	}
	if _, ok := cols["description"]; !ok {
		return nil, errors.New("corpus is missing the description column")
	}
	if _, ok := cols["resolution"]; !ok {
		return nil, errors.New("corpus is missing the resolution column")
	}

	var entries []Entry
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("corpus line %d: %w", line, err)
		}
		get := func(field string) string {
			i, ok := cols[field]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		e := Entry{
			ID:          get("id"),
			Category:    get("category"),
			Priority:    get("priority"),
			Description: get("description"),
			Resolution:  get("resolution"),
		}
		if e.Description == "" || e.Resolution == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
