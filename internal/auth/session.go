package auth

import (
	"sync"
	"time"

	"github.com/kalambet/threadmark/internal/domain"
)

// Session is an authenticated hub session.
type Session struct {
	Token     string          `json:"token"`
	User      domain.Identity `json:"user"`
	HubURL    string          `json:"hubUrl,omitempty"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry. A zero expiry never expires.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Provider is the authentication capability consumed by storage: the
// current session and a change subscription.
type Provider interface {
	CurrentSession() (Session, bool)
	Subscribe(fn func(s Session, ok bool)) (unsubscribe func())
}

// Identity returns the signed-in user, or the anonymous identity.
func Identity(p Provider) domain.Identity {
	if p == nil {
		return domain.Anonymous()
	}
	if s, ok := p.CurrentSession(); ok && !s.User.IsAnonymous() {
		return s.User
	}
	return domain.Anonymous()
}

// Memory is an in-process Provider.
type Memory struct {
	mu      sync.RWMutex
	session *Session
	subs    map[int]func(Session, bool)
	nextSub int
	now     func() time.Time
}

// NewMemory returns a signed-out provider.
func NewMemory() *Memory {
	return &Memory{subs: make(map[int]func(Session, bool)), now: time.Now}
}

func (m *Memory) CurrentSession() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil || m.session.Expired(m.now()) {
		return Session{}, false
	}
	return *m.session, true
}

func (m *Memory) Subscribe(fn func(Session, bool)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// SignIn replaces the current session and notifies subscribers.
func (m *Memory) SignIn(s Session) {
	m.set(&s)
}

// SignOut clears the session and notifies subscribers.
func (m *Memory) SignOut() {
	m.set(nil)
}

func (m *Memory) set(s *Session) {
	m.mu.Lock()
	m.session = s
	subs := make([]func(Session, bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	cur, ok := m.CurrentSession()
	for _, fn := range subs {
		fn(cur, ok)
	}
}
