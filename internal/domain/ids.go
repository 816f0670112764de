package domain

import "github.com/google/uuid"

// NewID returns a fresh globally unique record id.
func NewID() string {
	return uuid.New().String()
}

// AssignFreshIDs gives every thread a new id so an import batch cannot
// collide with stored threads. Messages without an id get one too.
func AssignFreshIDs(threads []Thread) []Thread {
	out := make([]Thread, len(threads))
	for i, t := range threads {
		t = t.Clone()
		t.ID = NewID()
		for j := range t.Messages {
			if t.Messages[j].ID == "" {
				t.Messages[j].ID = NewID()
			}
		}
		t.Normalize()
		out[i] = t
	}
	return out
}
