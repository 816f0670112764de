// Package docstore holds the hub's shared thread documents and user accounts.
package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/threadmark/internal/domain"
)

// ErrUserExists is returned when creating a user whose email is taken.
var ErrUserExists = errors.New("user already exists")

// User is a hub account.
type User struct {
	UID          string
	Email        string
	DisplayName  string
	PasswordHash string
	Disabled     bool
	CreatedAt    time.Time
}

// Identity returns the identity stamped onto writes by this user.
func (u User) Identity() domain.Identity {
	return domain.Identity{UID: u.UID, Email: u.Email, DisplayName: u.DisplayName}
}

// Store persists threads in one shared workspace. Not-found conditions
// are reported as domain.ErrNotFound.
type Store interface {
	// Put writes t as a full replace.
	Put(ctx context.Context, t domain.Thread) error
	Get(ctx context.Context, id string) (domain.Thread, error)
	// List returns every thread, most recently updated first.
	List(ctx context.Context) ([]domain.Thread, error)
	// Update loads a thread, applies fn and writes it back atomically.
	Update(ctx context.Context, id string, fn func(*domain.Thread) error) (domain.Thread, error)
	Delete(ctx context.Context, id string) error

	CreateUser(ctx context.Context, u User) error
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, uid string) (User, error)

	Ping(ctx context.Context) error
	Close() error
}
