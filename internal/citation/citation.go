// Package citation resolves retrieved chunks back to human-readable
// sources: a title, an optional URL and a short excerpt.
package citation

import (
	"context"
	"errors"

	"github.com/askany/askany/internal/document"
	"github.com/askany/askany/internal/log"
	"github.com/askany/askany/internal/search"
)

// Citation points a reader at where an answer came from.
type Citation struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
}

// DocumentGetter is the slice of the document store the mapper needs.
type DocumentGetter interface {
	Get(ctx context.Context, id string) (document.Document, error)
}

// Mapper turns retrieved chunks into citations.
type Mapper struct {
	docs        DocumentGetter
	excerptSize int
	logger      log.Logger
}

// NewMapper creates a Mapper. docs may be nil, in which case titles come
// from chunk metadata or the location pointer alone.
func NewMapper(docs DocumentGetter, logger log.Logger) *Mapper {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Mapper{docs: docs, excerptSize: 500, logger: logger}
}

// Resolve maps each chunk to a citation, deduplicating by source so a
// document cited through several chunks appears once. Resolution never
// fails: a chunk whose source cannot be identified still yields a citation
// with a title derived from its location pointer.
func (m *Mapper) Resolve(ctx context.Context, chunks []search.RetrievedChunk) []Citation {
	citations := make([]Citation, 0, len(chunks))
	seen := make(map[string]bool, len(chunks))

	for _, ch := range chunks {
		c := m.resolveOne(ctx, ch)
		key := c.Title + "\x00" + c.URL
		if seen[key] {
			continue
		}
		seen[key] = true
		citations = append(citations, c)
	}
	return citations
}

func (m *Mapper) resolveOne(ctx context.Context, ch search.RetrievedChunk) Citation {
	c := Citation{
		Title:   ch.Metadata["title"],
		URL:     ch.Metadata["url"],
		Excerpt: excerpt(ch.Text, m.excerptSize),
	}
	if c.Title != "" {
		return c
	}

	if m.docs != nil {
		if id := document.IDFromPointer(ch.Location); id != "" {
			doc, err := m.docs.Get(ctx, id)
			switch {
			case err == nil:
				c.Title = doc.Title
				if c.URL == "" {
					c.URL = doc.SourceURL
				}
				return c
			case !errors.Is(err, document.ErrNotFound):
				m.logger.Warn("document lookup failed during citation resolution",
					"document_id", id,
					"error", err,
				)
			}
		}
	}

	c.Title = document.TitleFromPointer(ch.Location)
	return c
}

// excerpt truncates text to at most limit runes.
func excerpt(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
