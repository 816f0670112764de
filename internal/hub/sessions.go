package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"github.com/kalambet/threadmark/internal/domain"
	"github.com/kalambet/threadmark/internal/hub/docstore"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Claims are the JWT claims of a hub session.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies session tokens.
type Sessions struct {
	store  docstore.Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	// identities caches uid -> domain.Identity for verified users.
	identities *cache.Cache
}

// NewSessions returns a token issuer backed by store's user accounts.
func NewSessions(store docstore.Store, secret string, ttl, cacheTTL time.Duration) *Sessions {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Sessions{
		store:      store,
		secret:     []byte(secret),
		ttl:        ttl,
		now:        time.Now,
		identities: cache.New(cacheTTL, 2*cacheTTL),
	}
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// AddUser creates an account with a bcrypt-hashed password.
func (s *Sessions) AddUser(ctx context.Context, email, displayName, password string) (docstore.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return docstore.User{}, fmt.Errorf("%w: a valid email is required", domain.ErrInvalidRecord)
	}
	if len(password) < 8 {
		return docstore.User{}, fmt.Errorf("%w: password must be at least 8 characters", domain.ErrInvalidRecord)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return docstore.User{}, err
	}
	u := docstore.User{
		UID:          uuid.New().String(),
		Email:        strings.ToLower(email),
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return docstore.User{}, err
	}
	return u, nil
}

// Login checks credentials and issues a signed token.
func (s *Sessions) Login(ctx context.Context, email, password string) (string, docstore.User, time.Time, error) {
	u, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return "", docstore.User{}, time.Time{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", docstore.User{}, time.Time{}, err
	}
	if u.Disabled {
		return "", docstore.User{}, time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", docstore.User{}, time.Time{}, ErrInvalidCredentials
	}

	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		Email: u.Email,
		Name:  u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    "threadmark-hub",
			ID:        uuid.New().String(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", docstore.User{}, time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, u, expires, nil
}

// Verify parses a token and resolves the identity it belongs to.
func (s *Sessions) Verify(ctx context.Context, tokenString string) (domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return domain.Identity{}, errors.New("invalid token")
	}

	if cached, ok := s.identities.Get(claims.Subject); ok {
		return cached.(domain.Identity), nil
	}
	u, err := s.store.UserByID(ctx, claims.Subject)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("resolving user: %w", err)
	}
	if u.Disabled {
		return domain.Identity{}, errors.New("user is disabled")
	}
	id := u.Identity()
	s.identities.SetDefault(claims.Subject, id)
	return id, nil
}

type identityKey struct{}

// IdentityFrom returns the identity attached by RequireSession.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok
}

// RequireSession rejects requests without a valid bearer token.
func RequireSession(s *Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
				return
			}
			id, err := s.Verify(r.Context(), header[len(prefix):])
			if err != nil {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid session: %v", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
		})
	}
}
