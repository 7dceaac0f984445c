package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound indicates the requested document does not exist in the store.
var ErrNotFound = errors.New("document not found")

// FSStore reads normalized documents from a directory of JSON files,
// one file per document, named <id>.json. This is the local mirror of the
// sync bucket layout.
//
// FSStore is safe for concurrent use: it holds no mutable state and every
// call reads from disk.
type FSStore struct {
	dir    string
	logger *slog.Logger
}

// NewFSStore creates a document store over the given directory.
func NewFSStore(dir string, logger *slog.Logger) *FSStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSStore{dir: dir, logger: logger}
}

// List returns all documents in the directory, ordered by ID.
// Files that fail to parse are skipped with a warning rather than failing
// the whole listing; a single corrupt file must not block ingestion.
func (s *FSStore) List(ctx context.Context) ([]Document, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading document directory %q: %w", s.dir, err)
	}

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), jsonSuffix) {
			continue
		}

		doc, err := s.readFile(entry.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable document",
				"file", entry.Name(), "error", err)
			continue
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Get returns a single document by ID.
func (s *FSStore) Get(_ context.Context, id string) (Document, error) {
	if id == "" {
		return Document{}, ErrNotFound
	}
	doc, err := s.readFile(id + jsonSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return Document{}, err
	}
	return doc, nil
}

func (s *FSStore) readFile(name string) (Document, error) {
	// filepath.Base guards against path separators smuggled in via an ID.
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(name)))
	if err != nil {
		return Document{}, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing %q: %w", name, err)
	}
	if doc.ID == "" {
		doc.ID = strings.TrimSuffix(filepath.Base(name), jsonSuffix)
	}
	return doc, nil
}
