// Package chunk splits documents into overlapping fixed-size text windows,
// the unit of embedding and indexing.
//
// Splitting is deterministic and pure: identical inputs always produce
// identical chunk boundaries. Window sizes are expressed in tokens and
// converted to runes with the shared estimator in internal/token, the same
// estimator the prompt assembler budgets with. Offsets are rune offsets into
// the document body; byte offsets would diverge on CJK text.
package chunk

import (
	"errors"
	"fmt"

	"github.com/askany/askany/internal/document"
	"github.com/askany/askany/internal/token"
)

// ErrInvalidConfig indicates the chunking parameters are out of range.
// This is fatal for the caller: the configuration must be fixed before
// retrying, no amount of retries will help.
var ErrInvalidConfig = errors.New("invalid chunking config")

// Chunk is a bounded text window cut from a document.
type Chunk struct {
	DocumentID string
	// Index is the 0-based, sequential position of the chunk within its
	// document. Together with DocumentID it identifies the index record.
	Index int
	Text  string
	// Start and End are rune offsets into the document body, half-open.
	Start int
	End   int
}

// Split cuts doc.Body into ordered overlapping windows.
//
// Each window estimates to at most maxTokens tokens. Consecutive windows
// overlap by overlapPct percent of maxTokens, copied from the tail of the
// preceding window; 0 disables overlap. The final window may be shorter and
// is never padded. An empty body yields zero chunks and no error.
func Split(doc document.Document, maxTokens, overlapPct int) ([]Chunk, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalidConfig, maxTokens)
	}
	if overlapPct < 0 || overlapPct >= 100 {
		return nil, fmt.Errorf("%w: overlap must be in [0,100), got %d", ErrInvalidConfig, overlapPct)
	}
	if doc.Body == "" {
		return nil, nil
	}

	window := token.Runes(maxTokens)
	overlap := token.Runes(maxTokens * overlapPct / 100)
	stride := window - overlap // overlap < window because overlapPct < 100

	runes := []rune(doc.Body)
	chunks := make([]Chunk, 0, (len(runes)+stride-1)/stride)

	// The stride march visits every start position below len(runes), so a
	// body that is not a whole number of strides ends with a short chunk.
	for start := 0; start < len(runes); start += stride {
		end := min(start+window, len(runes))
		chunks = append(chunks, Chunk{
			DocumentID: doc.ID,
			Index:      len(chunks),
			Text:       string(runes[start:end]),
			Start:      start,
			End:        end,
		})
	}

	return chunks, nil
}
