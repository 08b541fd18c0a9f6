// Package classifier implements k-nearest-neighbor classification over raw
// byte vectors.
//
// Distance is squared Euclidean over the 784 bytes. Neighbors are ordered by
// (distance, label, index) ascending. The k nearest vote with equal weight;
// the most frequent label wins and a vote tie goes to the smallest label. The
// reported index is the nearest neighbor carrying the winning label. The same
// dataset, query and k always produce the same result.
package classifier

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/knnipc/internal/dataset"
	"github.com/GriffinCanCode/knnipc/internal/wire"
)

// DefaultK is the neighbor count used when none is configured.
const DefaultK = 3

var (
	ErrInvalidK     = errors.New("k must be at least 1")
	ErrEmptyDataset = errors.New("training set is empty")
)

// Classifier maps a query vector to a training index and label.
type Classifier interface {
	Classify(query []byte) (wire.Response, error)
}

// KNN classifies against a read-only training set. It is safe for
// concurrent use.
type KNN struct {
	data *dataset.Dataset
	k    int
}

// New returns a KNN over d. A k larger than the dataset is clamped to its
// size.
func New(d *dataset.Dataset, k int) (*KNN, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if d == nil || d.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	if k > d.Len() {
		k = d.Len()
	}
	return &KNN{data: d, k: k}, nil
}

// K returns the effective neighbor count.
func (c *KNN) K() int {
	return c.k
}

type neighbor struct {
	dist  uint64
	label byte
	index uint32
}

func (a neighbor) less(b neighbor) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.label != b.label {
		return a.label < b.label
	}
	return a.index < b.index
}

// Classify returns the predicted label and the matched training index.
func (c *KNN) Classify(query []byte) (wire.Response, error) {
	if len(query) != wire.VectorSize {
		return wire.Response{}, wire.ErrShortVector
	}

	nearest := make([]neighbor, 0, c.k)
	for i := range c.data.Samples {
		s := &c.data.Samples[i]
		n := neighbor{dist: Distance(query, s.Features[:]), label: s.Label, index: uint32(i)}
		nearest = insert(nearest, n, c.k)
	}

	var votes [256]int
	for _, n := range nearest {
		votes[n.label]++
	}
	winner := 0
	for l := 1; l < len(votes); l++ {
		if votes[l] > votes[winner] {
			winner = l
		}
	}

	for _, n := range nearest {
		if int(n.label) == winner {
			return wire.Response{Index: n.index, Label: n.label}, nil
		}
	}
	// nearest is non-empty and the winner has at least one vote.
	panic("classifier: winning label has no neighbor")
}

// insert places n into the sorted slice, keeping at most k entries.
func insert(nearest []neighbor, n neighbor, k int) []neighbor {
	if len(nearest) == k && !n.less(nearest[k-1]) {
		return nearest
	}
	if len(nearest) < k {
		nearest = append(nearest, n)
	} else {
		nearest[k-1] = n
	}
	for i := len(nearest) - 1; i > 0 && nearest[i].less(nearest[i-1]); i-- {
		nearest[i], nearest[i-1] = nearest[i-1], nearest[i]
	}
	return nearest
}

// Distance returns the squared Euclidean distance between two equal-length
// byte vectors.
func Distance(a, b []byte) uint64 {
	var sum uint64
	for i := range a {
		d := int64(a[i]) - int64(b[i])
		sum += uint64(d * d)
	}
	return sum
}
