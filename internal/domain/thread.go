package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Role identifies the speaker of a message.
type Role string

const (
	RoleHuman        Role = "human"
	RoleUser         Role = "user"
	RoleAI           Role = "ai"
	RoleAssistant    Role = "assistant"
	RoleInstructions Role = "instructions"
	RoleTool         Role = "tool"
	RoleError        Role = "error"
)

// Structural message kinds, carried in Message.Type rather than the role.
const (
	MessageToolCall     = "tool-call"
	MessageToolResponse = "tool-response"
)

// Message is one conversation turn. Storage copies it verbatim.
type Message struct {
	ID         string          `json:"id,omitempty"`
	Role       Role            `json:"role"`
	Content    string          `json:"content"`
	Timestamp  Timestamp       `json:"timestamp"`
	Type       string          `json:"type,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// Rating is a reviewer's verdict on a thread.
type Rating string

const (
	RatingGood Rating = "good"
	RatingBad  Rating = "bad"
)

func (r Rating) Valid() bool {
	return r == RatingGood || r == RatingBad
}

// Annotation is one reviewer's judgment, created only by appending and
// removed only by index.
type Annotation struct {
	Rating       Rating    `json:"rating"`
	Notes        string    `json:"notes"`
	Tags         []string  `json:"tags"`
	Timestamp    Timestamp `json:"timestamp"`
	CreatedBy    string    `json:"createdBy"`
	CreatedByUID string    `json:"createdByUid"`
}

// AnnotationInput is the caller-supplied part of an annotation.
type AnnotationInput struct {
	Rating Rating   `json:"rating"`
	Notes  string   `json:"notes"`
	Tags   []string `json:"tags"`
}

// Validate rejects inputs with an unknown rating.
func (in AnnotationInput) Validate() error {
	if !in.Rating.Valid() {
		return fmt.Errorf("%w: rating must be %q or %q, got %q", ErrInvalidRecord, RatingGood, RatingBad, in.Rating)
	}
	return nil
}

// Annotations is the ordered annotation list of a thread. It decodes the
// legacy bare-object shape as a one-element list and null as empty.
type Annotations []Annotation

func (a Annotations) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Annotation(a))
}

func (a *Annotations) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*a = Annotations{}
		return nil
	case b[0] == '{':
		var single Annotation
		if err := json.Unmarshal(b, &single); err != nil {
			return err
		}
		*a = Annotations{single}
		return nil
	default:
		var list []Annotation
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		if list == nil {
			list = []Annotation{}
		}
		*a = list
		return nil
	}
}

// Thread is a conversation record and the unit of storage.
type Thread struct {
	ID                string      `json:"id"`
	Title             string      `json:"title,omitempty"`
	CreatedAt         Timestamp   `json:"createdAt"`
	UpdatedAt         Timestamp   `json:"updatedAt"`
	IsAnnotated       bool        `json:"isAnnotated"`
	Messages          []Message   `json:"messages"`
	Annotations       Annotations `json:"annotations"`
	LastModifiedBy    string      `json:"lastModifiedBy,omitempty"`
	LastModifiedByUID string      `json:"lastModifiedByUid,omitempty"`
}

// Validate rejects threads that cannot be stored.
func (t Thread) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: thread has no id", ErrInvalidRecord)
	}
	return nil
}

// Normalize replaces nil slices with empty ones and recomputes IsAnnotated.
func (t *Thread) Normalize() {
	if t.Messages == nil {
		t.Messages = []Message{}
	}
	if t.Annotations == nil {
		t.Annotations = Annotations{}
	}
	t.RecomputeAnnotated()
}

// RecomputeAnnotated derives IsAnnotated from the annotation list.
func (t *Thread) RecomputeAnnotated() {
	t.IsAnnotated = len(t.Annotations) > 0
}

// Clone returns a deep copy of the thread.
func (t Thread) Clone() Thread {
	c := t
	c.Messages = slices.Clone(t.Messages)
	if t.Annotations != nil {
		c.Annotations = make(Annotations, len(t.Annotations))
		for i, a := range t.Annotations {
			a.Tags = slices.Clone(a.Tags)
			c.Annotations[i] = a
		}
	}
	return c
}

// Stamp records who modified the thread.
func (t *Thread) Stamp(who Identity) {
	t.LastModifiedBy = who.Label()
	t.LastModifiedByUID = who.UID
}
