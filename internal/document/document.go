// Package document defines the normalized document model produced by the
// sync pipeline and the Store interface the rest of the system consumes.
//
// Documents arrive already normalized: the crawler that extracts them from
// the upstream workspace is an external collaborator and writes one JSON
// file per document (kb-data/<id>.json). This package only reads that
// output; it never talks to the upstream source.
package document

import (
	"context"
	"path"
	"strings"
	"time"
)

// Document is a normalized source document handed to ingestion.
// Immutable for a given LastModified; a newer LastModified supersedes all
// chunks previously indexed for the same ID.
type Document struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Body         string            `json:"content"`
	SourceURL    string            `json:"url"`
	LastModified time.Time         `json:"last_edited_time"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Store provides access to the normalized document corpus.
// Implementations must be safe for concurrent use.
type Store interface {
	// List returns all documents in the corpus.
	List(ctx context.Context) ([]Document, error)

	// Get returns a single document by ID.
	// Returns ErrNotFound if the document does not exist.
	Get(ctx context.Context, id string) (Document, error)
}

// dataPrefix is the storage prefix documents live under. Retrieval results
// carry pointers in this layout, so citation resolution depends on it.
const dataPrefix = "kb-data"

// jsonSuffix is the file suffix of normalized documents.
const jsonSuffix = ".json"

// PointerFor returns the opaque storage pointer for a document ID.
// This is the value stored in index record metadata and echoed back by
// retrieval as the chunk location.
func PointerFor(id string) string {
	return path.Join(dataPrefix, id+jsonSuffix)
}

// IDFromPointer extracts the document ID from a storage pointer.
// Returns an empty string when the pointer has no usable final segment.
func IDFromPointer(pointer string) string {
	base := path.Base(pointer)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, jsonSuffix)
}

// TitleFromPointer derives a best-effort human-readable title from a storage
// pointer: the final path segment with the JSON suffix stripped and
// underscores replaced by spaces. Used as the last citation fallback when a
// pointer matches no known document.
func TitleFromPointer(pointer string) string {
	id := IDFromPointer(pointer)
	title := strings.TrimSpace(strings.ReplaceAll(id, "_", " "))
	if title == "" {
		return "Untitled"
	}
	return title
}
