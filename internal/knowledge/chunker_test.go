package knowledge

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"mmassist/internal/domain"
)

func TestNewChunker_Validation(t *testing.T) {
	for _, tc := range []struct{ size, overlap int }{{0, 0}, {-1, 0}, {100, 100}, {100, 150}, {10, -1}} {
		if _, err := NewChunker(tc.size, tc.overlap); !errors.Is(err, ErrInvalidChunking) {
			t.Errorf("NewChunker(%d, %d) = %v, want ErrInvalidChunking", tc.size, tc.overlap, err)
		}
	}
	if _, err := NewChunker(1000, 200); err != nil {
		t.Fatalf("NewChunker(1000, 200): %v", err)
	}
}

func TestSplit_ThreeThousandCharacters(t *testing.T) {
	c, _ := NewChunker(1000, 200)
	chunks := c.Split(strings.Repeat("x", 3000))
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks[:3] {
		if len(ch) != 1000 {
			t.Errorf("chunk %d has %d chars, want 1000", i, len(ch))
		}
	}
	if len(chunks[3]) != 600 {
		t.Errorf("last chunk has %d chars, want 600", len(chunks[3]))
	}
}

func TestSplit_EdgeCases(t *testing.T) {
	c, _ := NewChunker(10, 3)
	if got := c.Split(""); len(got) != 0 {
		t.Fatalf("empty text produced %d chunks", len(got))
	}
	if got := c.Split("short"); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text produced %v", got)
	}
	if got := c.Split("exactly10!"); len(got) != 1 {
		t.Fatalf("text of exactly Size produced %d chunks", len(got))
	}
}

func TestSplit_Properties(t *testing.T) {
	texts := []string{
		strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40),
		strings.Repeat("مرحبا بالعالم ", 90),
		"a",
		strings.Repeat("é", 1001),
	}
	params := []struct{ size, overlap int }{{1000, 200}, {500, 100}, {1500, 300}, {7, 0}, {7, 6}}

	for _, text := range texts {
		for _, p := range params {
			c, err := NewChunker(p.size, p.overlap)
			if err != nil {
				t.Fatal(err)
			}
			chunks := c.Split(text)

			if got := Reconstruct(chunks, p.overlap); got != text {
				t.Fatalf("size=%d overlap=%d: reconstruction mismatch", p.size, p.overlap)
			}

			n := utf8.RuneCountInString(text)
			if n > p.size {
				step := p.size - p.overlap
				want := 1 + (n-p.size+step-1)/step
				if len(chunks) != want {
					t.Fatalf("size=%d overlap=%d n=%d: got %d chunks, want %d", p.size, p.overlap, n, len(chunks), want)
				}
			}

			for i := 0; i < len(chunks)-1; i++ {
				cur, next := []rune(chunks[i]), []rune(chunks[i+1])
				if len(cur) != p.size {
					t.Fatalf("chunk %d has %d runes, want %d", i, len(cur), p.size)
				}
				if string(cur[len(cur)-p.overlap:]) != string(next[:p.overlap]) {
					t.Fatalf("chunks %d and %d do not share %d runes", i, i+1, p.overlap)
				}
			}
		}
	}
}

func TestChunkDocument_Provenance(t *testing.T) {
	c, _ := NewChunker(5, 1)
	doc := domain.Document{ID: "abc", Name: "notes.txt", Text: "0123456789"}
	chunks := c.ChunkDocument(doc)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Source != "notes.txt" || ch.DocumentID != "abc" || ch.Index != i {
			t.Errorf("chunk %d has wrong provenance: %+v", i, ch)
		}
	}
}
