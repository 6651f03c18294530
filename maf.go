package krishisahay

import (
	"fmt"
)

type classState struct {
	index  int
	sum    float64
	values []float64
}

// MAF is a moving average filter, for smoothing per-class detection
// confidences over consecutive captures.
type MAF struct {
	size  int
	state map[string]*classState
}

// NewMAF returns a new moving average filter with a history of given size.
// Classes may be given up front; classes first seen in Update start with a
// history of all zeroes.
func NewMAF(size int, classes ...string) (*MAF, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be > 0")
	}
	maf := &MAF{
		size:  size,
		state: map[string]*classState{},
	}
	for _, c := range classes {
		maf.state[c] = &classState{values: make([]float64, size)}
	}
	return maf, nil
}

// Update adds the confidences of one capture to the filter and returns the
// smoothed value of every class seen so far. A known class absent from
// confidences counts as 0 for this capture.
func (m *MAF) Update(confidences map[string]float64) (map[string]float64, error) {
	if m.state == nil {
		return nil, fmt.Errorf("invalid MAF, use NewMAF")
	}
	for c := range confidences {
		if _, ok := m.state[c]; !ok {
			m.state[c] = &classState{values: make([]float64, m.size)}
		}
	}

	r := map[string]float64{}
	for c, cs := range m.state {
		value := confidences[c]
		cs.sum -= cs.values[cs.index]
		cs.sum += value
		cs.values[cs.index] = value
		r[c] = cs.sum / float64(len(cs.values))
		cs.index++
		if cs.index >= len(cs.values) {
			cs.index = 0
		}
	}
	return r, nil
}
