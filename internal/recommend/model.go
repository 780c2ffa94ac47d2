package recommend

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

// Model artifact layout (little-endian):
//
//	magic   uint32  'PSCF'
//	version uint32
//	factors uint32
//	users   uint32
//	items   uint32
//	users × { idLen uint16, id bytes, interactions uint32, factors × float32 }
//	items × { idLen uint16, id bytes, factors × float32 }
const (
	modelMagic   = 0x50534346 // "PSCF"
	modelVersion = 1

	// Users with fewer observed interactions than this are treated as
	// cold-start: their factors are too noisy to trust.
	defaultMinInteractions = 5
)

// UserEntry is one user row in the model artifact.
type UserEntry struct {
	UserID       string
	Interactions uint32
	Factors      []float32
}

// ItemEntry is one product row in the model artifact.
type ItemEntry struct {
	ProductID string
	Factors   []float32
}

type userFactors struct {
	interactions uint32
	factors      []float32
}

// Model holds collaborative-filtering factor matrices trained offline.
// Loaded read-only at startup; rebuilt by the batch pipeline.
type Model struct {
	factors         int
	minInteractions uint32
	users           map[string]userFactors
	itemIDs         []string
	itemFactors     [][]float32
	itemIndex       map[string]int
}

// LoadModel reads a factor-model artifact from disk.
func LoadModel(path string, minInteractions int) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	m, err := ReadModel(bufio.NewReader(f), minInteractions)
	if err != nil {
		return nil, fmt.Errorf("read model artifact %s: %w", path, err)
	}
	return m, nil
}

// ReadModel decodes a factor-model artifact.
func ReadModel(r io.Reader, minInteractions int) (*Model, error) {
	var header struct {
		Magic   uint32
		Version uint32
		Factors uint32
		Users   uint32
		Items   uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header.Magic != modelMagic {
		return nil, fmt.Errorf("bad magic 0x%08x", header.Magic)
	}
	if header.Version != modelVersion {
		return nil, fmt.Errorf("unsupported version %d", header.Version)
	}
	if header.Factors == 0 {
		return nil, fmt.Errorf("zero factor dimensions")
	}
	if minInteractions <= 0 {
		minInteractions = defaultMinInteractions
	}

	m := &Model{
		factors:         int(header.Factors),
		minInteractions: uint32(minInteractions),
		users:           make(map[string]userFactors, header.Users),
		itemIDs:         make([]string, 0, header.Items),
		itemFactors:     make([][]float32, 0, header.Items),
		itemIndex:       make(map[string]int, header.Items),
	}

	for i := uint32(0); i < header.Users; i++ {
		id, err := readID(r)
		if err != nil {
			return nil, fmt.Errorf("read user id: %w", err)
		}
		var interactions uint32
		if err := binary.Read(r, binary.LittleEndian, &interactions); err != nil {
			return nil, fmt.Errorf("read interactions for %s: %w", id, err)
		}
		vec := make([]float32, header.Factors)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("read user factors for %s: %w", id, err)
		}
		m.users[id] = userFactors{interactions: interactions, factors: vec}
	}

	for i := uint32(0); i < header.Items; i++ {
		id, err := readID(r)
		if err != nil {
			return nil, fmt.Errorf("read item id: %w", err)
		}
		vec := make([]float32, header.Factors)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("read item factors for %s: %w", id, err)
		}
		m.itemIndex[id] = len(m.itemIDs)
		m.itemIDs = append(m.itemIDs, id)
		m.itemFactors = append(m.itemFactors, vec)
	}
	return m, nil
}

// WriteModel encodes a factor-model artifact. Used by the offline training
// job and test fixtures.
func WriteModel(w io.Writer, factors int, users []UserEntry, items []ItemEntry) error {
	header := struct {
		Magic   uint32
		Version uint32
		Factors uint32
		Users   uint32
		Items   uint32
	}{modelMagic, modelVersion, uint32(factors), uint32(len(users)), uint32(len(items))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, u := range users {
		if len(u.Factors) != factors {
			return fmt.Errorf("user %s: dimension mismatch %d != %d", u.UserID, len(u.Factors), factors)
		}
		if err := writeID(w, u.UserID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, u.Interactions); err != nil {
			return fmt.Errorf("write interactions: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, u.Factors); err != nil {
			return fmt.Errorf("write user factors: %w", err)
		}
	}
	for _, it := range items {
		if len(it.Factors) != factors {
			return fmt.Errorf("item %s: dimension mismatch %d != %d", it.ProductID, len(it.Factors), factors)
		}
		if err := writeID(w, it.ProductID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, it.Factors); err != nil {
			return fmt.Errorf("write item factors: %w", err)
		}
	}
	return nil
}

// Factors returns the latent dimensionality of the model.
func (m *Model) Factors() int { return m.factors }

// Users returns the number of users with factor rows.
func (m *Model) Users() int { return len(m.users) }

// Items returns the number of products with factor rows.
func (m *Model) Items() int { return len(m.itemIDs) }

// Knows reports whether the model carries usable factors for the user.
// Cold-start users (absent, or below the interaction floor) return false.
func (m *Model) Knows(userID string) bool {
	u, ok := m.users[userID]
	return ok && u.interactions >= m.minInteractions
}

// Affinity returns the predicted user-product affinity on [0,1]. The second
// return is false when either side is unknown or the user is cold-start.
func (m *Model) Affinity(userID, productID string) (float64, bool) {
	u, ok := m.users[userID]
	if !ok || u.interactions < m.minInteractions {
		return 0, false
	}
	i, ok := m.itemIndex[productID]
	if !ok {
		return 0, false
	}
	return squash(dot(u.factors, m.itemFactors[i])), true
}

// Recommend returns the user's top-k products by predicted affinity, ties
// broken by product id. Returns nil for cold-start users.
func (m *Model) Recommend(userID string, k int) []domain.ScoredID {
	u, ok := m.users[userID]
	if !ok || u.interactions < m.minInteractions || k <= 0 {
		return nil
	}

	scored := make([]domain.ScoredID, 0, len(m.itemIDs))
	for i, id := range m.itemIDs {
		scored = append(scored, domain.ScoredID{
			ProductID: id,
			Score:     squash(dot(u.factors, m.itemFactors[i])),
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
	return scored
}

func readID(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	id := make([]byte, n)
	if _, err := io.ReadFull(r, id); err != nil {
		return "", err
	}
	return string(id), nil
}

func writeID(w io.Writer, id string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(id))); err != nil {
		return fmt.Errorf("write id length: %w", err)
	}
	if _, err := w.Write([]byte(id)); err != nil {
		return fmt.Errorf("write id: %w", err)
	}
	return nil
}

func dot(a, b []float32) float64 {
	var d float64
	for i := range a {
		d += float64(a[i]) * float64(b[i])
	}
	return d
}

// squash maps a raw factor dot product onto (0,1) via the logistic function.
func squash(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
