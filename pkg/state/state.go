// Package state holds the latest published prediction shared between
// the frame pipeline and status pollers.
package state

import (
	"sync"
	"time"
)

// Labels the pipeline publishes besides class names.
const (
	LabelWaiting = "Waiting..."
	LabelPlace   = "Place your finger"
	LabelError   = "Error"
)

// IsWarning reports whether label is one of the warning labels.
func IsWarning(label string) bool {
	return label == LabelPlace || label == LabelError
}

// Snapshot is a consistent copy of the published prediction.
type Snapshot struct {
	Label      string    `json:"prediction"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Prediction is the single published (label, confidence) pair.
// The lock is held only across field access.
type Prediction struct {
	mu         sync.Mutex
	label      string
	confidence float64
	updatedAt  time.Time

	now func() time.Time
}

// New returns a Prediction in the initial waiting state.
func New() *Prediction {
	return &Prediction{
		label:     LabelWaiting,
		updatedAt: time.Now(),
		now:       time.Now,
	}
}

// Set replaces label and confidence together.
func (p *Prediction) Set(label string, confidence float64) {
	p.mu.Lock()
	p.label = label
	p.confidence = confidence
	p.updatedAt = p.now()
	p.mu.Unlock()
}

// Get returns label, confidence and the time they were published.
func (p *Prediction) Get() (string, float64, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.label, p.confidence, p.updatedAt
}

// Snapshot returns the current value as a struct.
func (p *Prediction) Snapshot() Snapshot {
	label, conf, ts := p.Get()
	return Snapshot{Label: label, Confidence: conf, UpdatedAt: ts}
}
