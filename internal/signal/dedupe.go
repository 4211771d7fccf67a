package signal

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedupe remembers the most recent signal ids seen in this session.
// The oldest ids are evicted once capacity is reached.
type Dedupe struct {
	seen *lru.Cache[string, struct{}]
}

// NewDedupe creates a dedupe set holding up to capacity ids.
func NewDedupe(capacity int) (*Dedupe, error) {
	c, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &Dedupe{seen: c}, nil
}

// First records id and reports whether it had not been seen before.
func (d *Dedupe) First(id string) bool {
	found, _ := d.seen.ContainsOrAdd(id, struct{}{})
	return !found
}
