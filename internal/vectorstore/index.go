// Package vectorstore persists chunk embeddings and answers exact
// nearest-neighbour queries over them.
package vectorstore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the dimension fixed by the first vector added.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrCorruptIndex is returned when an index file cannot be decoded.
	ErrCorruptIndex = errors.New("corrupt index file")
)

// File header:
//
//	0..7   magic "MMAVEC01"
//	8..11  version (uint32)
//	12..19 dim (uint64)
//	20..27 count (uint64)
//
// followed by count records of id (int64) and dim float32 values.
var fileMagic = [8]byte{'M', 'M', 'A', 'V', 'E', 'C', '0', '1'}

const (
	fileVersion uint32 = 1
	maxDim             = 1 << 16
)

// Neighbor is one search hit.
type Neighbor struct {
	ID       int64
	Distance float32
}

// Index is a flat index using Euclidean distance. Entries are append-only
// and keep insertion order.
type Index struct {
	mu   sync.RWMutex
	dim  int
	ids  []int64
	vecs [][]float32
}

func NewIndex() *Index {
	return &Index{}
}

// Dim is zero until the first vector is added.
func (x *Index) Dim() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dim
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// Add appends vectors and returns their IDs. The batch is rejected as a
// whole if any vector has the wrong dimension.
func (x *Index) Add(vectors [][]float32) ([]int64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	dim := x.dim
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("vector %d: %w: empty", i, ErrDimensionMismatch)
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d: %w: got %d, want %d", i, ErrDimensionMismatch, len(v), dim)
		}
	}
	x.dim = dim

	next := int64(0)
	if n := len(x.ids); n > 0 {
		next = x.ids[n-1] + 1
	}
	ids := make([]int64, len(vectors))
	for i, v := range vectors {
		ids[i] = next + int64(i)
		x.ids = append(x.ids, ids[i])
		x.vecs = append(x.vecs, append([]float32(nil), v...))
	}
	return ids, nil
}

// Truncate drops every vector after the first n. An index truncated to zero
// forgets its dimension.
func (x *Index) Truncate(n int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if n < 0 || n >= len(x.ids) {
		return
	}
	x.ids = x.ids[:n]
	x.vecs = x.vecs[:n]
	if n == 0 {
		x.dim = 0
	}
}

// Search returns at most min(k, Len()) neighbours of q ordered by
// non-decreasing distance. Equal distances keep insertion order.
func (x *Index) Search(q []float32, k int) ([]Neighbor, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if k <= 0 || len(x.ids) == 0 {
		return nil, nil
	}
	if len(q) != x.dim {
		return nil, fmt.Errorf("query: %w: got %d, want %d", ErrDimensionMismatch, len(q), x.dim)
	}

	hits := make([]Neighbor, len(x.ids))
	for i, v := range x.vecs {
		hits[i] = Neighbor{ID: x.ids[i], Distance: l2(q, v)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

func l2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// WriteTo encodes the index in the on-disk format.
func (x *Index) WriteTo(w io.Writer) (int64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}

	if _, err := cw.Write(fileMagic[:]); err != nil {
		return cw.n, err
	}
	header := []any{fileVersion, uint64(x.dim), uint64(len(x.ids))}
	for _, h := range header {
		if err := binary.Write(cw, binary.LittleEndian, h); err != nil {
			return cw.n, err
		}
	}
	for i, id := range x.ids {
		if err := binary.Write(cw, binary.LittleEndian, id); err != nil {
			return cw.n, err
		}
		if err := binary.Write(cw, binary.LittleEndian, x.vecs[i]); err != nil {
			return cw.n, err
		}
	}
	return cw.n, bw.Flush()
}

// ReadIndex decodes an index written by WriteTo.
func ReadIndex(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)

	var magic [8]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptIndex, err)
	}
	if magic != fileMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptIndex, magic[:])
	}
	var (
		version    uint32
		dim, count uint64
	)
	for _, h := range []any{&version, &dim, &count} {
		if err := binary.Read(br, binary.LittleEndian, h); err != nil {
			return nil, fmt.Errorf("%w: header: %v", ErrCorruptIndex, err)
		}
	}
	if version != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, version)
	}
	if dim > maxDim {
		return nil, fmt.Errorf("%w: dimension %d too large", ErrCorruptIndex, dim)
	}
	if count > 0 && dim == 0 {
		return nil, fmt.Errorf("%w: %d entries with zero dimension", ErrCorruptIndex, count)
	}

	x := &Index{dim: int(dim)}
	var prev int64 = -1
	for i := uint64(0); i < count; i++ {
		var id int64
		if err := binary.Read(br, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrCorruptIndex, i, err)
		}
		if id <= prev {
			return nil, fmt.Errorf("%w: ids not increasing at entry %d", ErrCorruptIndex, i)
		}
		prev = id
		vec := make([]float32, dim)
		if err := binary.Read(br, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrCorruptIndex, i, err)
		}
		x.ids = append(x.ids, id)
		x.vecs = append(x.vecs, vec)
	}
	return x, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
