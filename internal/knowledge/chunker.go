package knowledge

import (
	"errors"
	"fmt"

	"mmassist/internal/domain"
)

// ErrInvalidChunking is returned for a size/overlap pair that cannot make progress.
var ErrInvalidChunking = errors.New("invalid chunking parameters")

// Chunker splits text into fixed-size character windows that overlap their
// neighbour. Sizes count runes, not bytes.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker requires size > 0 and 0 <= overlap < size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunking, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the chunks of text. Every chunk but the last holds exactly
// Size runes and shares its final Overlap runes with the next chunk.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := c.size - c.overlap
	var out []string
	for start := 0; ; start += step {
		end := start + c.size
		if end > n {
			end = n
		}
		out = append(out, string(runes[start:end]))
		if end == n {
			break
		}
	}
	return out
}

// ChunkDocument splits doc's text and tags each piece with its provenance.
func (c *Chunker) ChunkDocument(doc domain.Document) []domain.Chunk {
	parts := c.Split(doc.Text)
	chunks := make([]domain.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = domain.Chunk{
			DocumentID: doc.ID,
			Source:     doc.Name,
			Index:      i,
			Text:       p,
		}
	}
	return chunks
}

// Reconstruct reverses Split for the same overlap.
func Reconstruct(chunks []string, overlap int) string {
	if len(chunks) == 0 {
		return ""
	}
	out := []rune(chunks[0])
	for _, ch := range chunks[1:] {
		r := []rune(ch)
		if len(r) > overlap {
			out = append(out, r[overlap:]...)
		}
	}
	return string(out)
}
