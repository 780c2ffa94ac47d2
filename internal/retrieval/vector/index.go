package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/kailas-cloud/prodsearch/internal/domain"
)

// Index artifact layout (little-endian):
//
//	magic   uint32  'PSVI'
//	version uint32
//	dims    uint32
//	count   uint32
//	count × { idLen uint16, id bytes, dims × float32 }
const (
	indexMagic   = 0x50535649 // "PSVI"
	indexVersion = 1
)

// Entry is one product vector in the index artifact.
type Entry struct {
	ProductID string
	Vector    []float32
}

// Index is an in-memory similarity index over precomputed product
// embeddings. Loaded read-only at startup; rebuilt offline.
type Index struct {
	dims    int
	ids     []string
	vectors [][]float32 // unit-normalized at load time
}

// LoadIndex reads an index artifact from disk.
func LoadIndex(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	idx, err := ReadIndex(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read index artifact %s: %w", path, err)
	}
	return idx, nil
}

// ReadIndex decodes an index artifact.
func ReadIndex(r io.Reader) (*Index, error) {
	var header struct {
		Magic   uint32
		Version uint32
		Dims    uint32
		Count   uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header.Magic != indexMagic {
		return nil, fmt.Errorf("bad magic 0x%08x", header.Magic)
	}
	if header.Version != indexVersion {
		return nil, fmt.Errorf("unsupported version %d", header.Version)
	}
	if header.Dims == 0 {
		return nil, fmt.Errorf("zero dimensions")
	}

	idx := &Index{
		dims:    int(header.Dims),
		ids:     make([]string, 0, header.Count),
		vectors: make([][]float32, 0, header.Count),
	}
	for i := uint32(0); i < header.Count; i++ {
		var idLen uint16
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, fmt.Errorf("read id length: %w", err)
		}
		id := make([]byte, idLen)
		if _, err := io.ReadFull(r, id); err != nil {
			return nil, fmt.Errorf("read id: %w", err)
		}
		vec := make([]float32, header.Dims)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("read vector: %w", err)
		}
		idx.ids = append(idx.ids, string(id))
		idx.vectors = append(idx.vectors, normalize(vec))
	}
	return idx, nil
}

// WriteIndex encodes an index artifact. Used by the offline build job and
// test fixtures.
func WriteIndex(w io.Writer, dims int, entries []Entry) error {
	header := struct {
		Magic   uint32
		Version uint32
		Dims    uint32
		Count   uint32
	}{indexMagic, indexVersion, uint32(dims), uint32(len(entries))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range entries {
		if len(e.Vector) != dims {
			return fmt.Errorf("entry %s: dimension mismatch %d != %d", e.ProductID, len(e.Vector), dims)
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(e.ProductID))); err != nil {
			return fmt.Errorf("write id length: %w", err)
		}
		if _, err := w.Write([]byte(e.ProductID)); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, e.Vector); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Dims returns the vector dimensionality of the index.
func (idx *Index) Dims() int { return idx.dims }

// Len returns the number of indexed products.
func (idx *Index) Len() int { return len(idx.ids) }

// Search returns the k nearest products by cosine similarity, scores mapped
// onto [0,1]. Ties are broken by product id for deterministic output.
func (idx *Index) Search(query []float32, k int) ([]domain.ScoredID, error) {
	if len(query) != idx.dims {
		return nil, fmt.Errorf("query dimension %d != index dimension %d", len(query), idx.dims)
	}
	if k <= 0 || idx.Len() == 0 {
		return nil, nil
	}

	q := normalize(query)
	scored := make([]domain.ScoredID, 0, idx.Len())
	for i, vec := range idx.vectors {
		scored = append(scored, domain.ScoredID{
			ProductID: idx.ids[i],
			Score:     similarity(q, vec),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ProductID < scored[j].ProductID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// similarity maps cosine similarity of unit vectors onto [0,1].
func similarity(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	s := (1 + dot) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
