// Package session owns the signed-in identity and its token.
//
// Status starts Unknown and becomes Authenticated or Anonymous once Restore
// or Login settles it; it never returns to Unknown. Every status change is
// delivered to subscribers in commit order.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"storefront/internal/ratelimit"
	"storefront/pkg/domain"
	"storefront/pkg/kv"
	"storefront/services/shop/internal/apiclient"
	"storefront/services/shop/internal/notify"
)

// Durable storage keys.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

type Status int

const (
	Unknown Status = iota
	Authenticated
	Anonymous
)

func (s Status) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// AuthAPI is the authentication part of the backend.
type AuthAPI interface {
	Login(ctx context.Context, creds domain.LoginCredentials) (domain.User, string, error)
	Register(ctx context.Context, creds domain.RegisterCredentials) (domain.User, string, error)
	Profile(ctx context.Context, token string) (domain.User, error)
	UpdateProfile(ctx context.Context, token string, update domain.ProfileUpdate) (domain.User, error)
}

// Snapshot is the last committed session state. User is nil unless Status is
// Authenticated.
type Snapshot struct {
	Status Status
	User   *domain.User
	Token  string
}

// Transition describes one status change.
type Transition struct {
	From Status
	To   Status
	User *domain.User
}

type Options struct {
	// Limiter throttles login attempts per email. Nil disables throttling.
	Limiter ratelimit.Limiter
	Logger  *slog.Logger
	Now     func() time.Time
}

type Store struct {
	api     AuthAPI
	storage kv.Store
	limiter ratelimit.Limiter
	logger  *slog.Logger
	now     func() time.Time

	restoreOnce sync.Once

	mu     sync.RWMutex
	status Status
	user   *domain.User
	token  string

	transitions notify.Queue[Transition]
}

func NewStore(api AuthAPI, storage kv.Store, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		api:     api,
		storage: storage,
		limiter: opts.Limiter,
		logger:  logger.With("store", "session"),
		now:     now,
	}
}

// Restore reads the persisted token and identity. It runs once per Store;
// later or concurrent calls wait for the first and return its outcome. If a
// login already settled the status, Restore leaves it alone.
func (s *Store) Restore(ctx context.Context) (Status, error) {
	var restoreErr error
	s.restoreOnce.Do(func() {
		restoreErr = s.restore(ctx)
	})
	return s.Status(), restoreErr
}

func (s *Store) restore(ctx context.Context) error {
	if s.Status() != Unknown {
		return nil
	}
	user, token, err := s.load(ctx)

	s.mu.Lock()
	if s.status != Unknown {
		// Login won the race.
		s.mu.Unlock()
		return nil
	}
	if err != nil || user == nil {
		s.setLocked(Anonymous, nil, "")
	} else {
		s.setLocked(Authenticated, user, token)
	}
	s.mu.Unlock()
	s.flush()

	if errors.Is(err, ErrSessionExpired) || errors.Is(err, errNoIdentity) {
		s.logger.Info("stored session discarded", "reason", err)
		if derr := s.storage.Delete(ctx, KeyToken, KeyUser); derr != nil {
			s.logger.Warn("clear expired session failed", "err", derr)
		}
		return nil
	}
	if err != nil {
		s.logger.Warn("restore session failed", "err", err)
		return err
	}
	s.logger.Debug("session restored", "status", s.Status().String())
	return nil
}

// load returns a nil user when nothing usable is stored.
func (s *Store) load(ctx context.Context) (*domain.User, string, error) {
	token, ok, err := s.storage.Get(ctx, KeyToken)
	if err != nil {
		return nil, "", fmt.Errorf("read token: %w", err)
	}
	if !ok || strings.TrimSpace(token) == "" {
		return nil, "", nil
	}
	raw, ok, err := s.storage.Get(ctx, KeyUser)
	if err != nil {
		return nil, "", fmt.Errorf("read user: %w", err)
	}
	if !ok || raw == "" {
		return nil, "", nil
	}
	var user domain.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, "", fmt.Errorf("decode stored user: %w", err)
	}
	if user.ID == 0 {
		return nil, "", errNoIdentity
	}
	if s.tokenExpired(token) {
		return nil, "", ErrSessionExpired
	}
	return &user, token, nil
}

// tokenExpired reports whether token is a JWT whose exp lies in the past.
// Opaque tokens never expire client-side.
func (s *Store) tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(s.now())
}

// Login authenticates with the backend and persists the session. Any failure
// leaves the store Anonymous with no identity; nothing is retried.
func (s *Store) Login(ctx context.Context, creds domain.LoginCredentials) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if s.limiter != nil {
		ok, err := s.limiter.Check(ctx, "login:"+email)
		switch {
		case err != nil:
			// Fail open; the backend still authenticates.
			s.logger.Warn("login throttle unavailable", "email", email, "err", err)
		case !ok:
			s.logger.Warn("login throttled", "email", email)
			s.resetAnonymous(ctx)
			return domain.User{}, ErrTooManyAttempts
		}
	}

	user, token, err := s.api.Login(ctx, creds)
	if err == nil && strings.TrimSpace(token) == "" {
		err = ErrMissingToken
	}
	if err != nil {
		s.resetAnonymous(ctx)
		if apiclient.IsUnauthorized(err) {
			err = fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		s.logger.Info("login failed", "email", email, "err", err)
		return domain.User{}, err
	}

	if perr := s.persist(ctx, user, token); perr != nil {
		// The session still works for this process.
		s.logger.Warn("persist session failed", "err", perr)
	}
	s.mu.Lock()
	s.setLocked(Authenticated, &user, token)
	s.mu.Unlock()
	s.flush()
	s.logger.Info("login succeeded", "user_id", user.ID)
	return user, nil
}

// Logout clears storage and memory. Calling it while anonymous is harmless.
// A storage failure is returned but the in-memory session is cleared anyway.
func (s *Store) Logout(ctx context.Context) error {
	err := s.storage.Delete(ctx, KeyToken, KeyUser)
	s.mu.Lock()
	s.setLocked(Anonymous, nil, "")
	s.mu.Unlock()
	s.flush()
	if err != nil {
		s.logger.Warn("clear stored session failed", "err", err)
		return fmt.Errorf("clear stored session: %w", err)
	}
	return nil
}

// Register creates an account. It does not sign the user in.
func (s *Store) Register(ctx context.Context, creds domain.RegisterCredentials) (domain.User, error) {
	user, _, err := s.api.Register(ctx, creds)
	if err != nil {
		if apiclient.StatusOf(err) == http.StatusConflict {
			return domain.User{}, fmt.Errorf("%w: %w", ErrEmailTaken, err)
		}
		return domain.User{}, err
	}
	s.logger.Info("account registered", "user_id", user.ID)
	return user, nil
}

// RefreshProfile reloads the identity from the backend. A rejected token
// signs the user out.
func (s *Store) RefreshProfile(ctx context.Context) (domain.User, error) {
	token := s.Token()
	if token == "" {
		return domain.User{}, ErrNotAuthenticated
	}
	user, err := s.api.Profile(ctx, token)
	return s.applyProfile(ctx, token, user, err)
}

// UpdateProfile changes name or email and keeps the stored identity in sync.
func (s *Store) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (domain.User, error) {
	token := s.Token()
	if token == "" {
		return domain.User{}, ErrNotAuthenticated
	}
	user, err := s.api.UpdateProfile(ctx, token, update)
	return s.applyProfile(ctx, token, user, err)
}

func (s *Store) applyProfile(ctx context.Context, token string, user domain.User, err error) (domain.User, error) {
	if err != nil {
		if apiclient.IsUnauthorized(err) {
			s.logger.Info("token rejected, signing out")
			_ = s.Logout(ctx)
			return domain.User{}, fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		return domain.User{}, err
	}
	s.mu.Lock()
	if s.status != Authenticated || s.token != token {
		// Signed out or switched accounts while the call was in flight.
		s.mu.Unlock()
		return user, nil
	}
	s.user = &user
	s.mu.Unlock()
	if perr := s.persist(ctx, user, token); perr != nil {
		s.logger.Warn("persist profile failed", "err", perr)
	}
	return user, nil
}

// Subscribe registers fn for status transitions. fn runs synchronously after
// the change is committed, in commit order, and may call back into the Store.
func (s *Store) Subscribe(fn func(Transition)) (unsubscribe func()) {
	return s.transitions.Subscribe(fn)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Status: s.status, Token: s.token}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Token returns the current token, or "" when not authenticated.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) persist(ctx context.Context, user domain.User, token string) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, KeyToken, token); err != nil {
		return err
	}
	return s.storage.Set(ctx, KeyUser, string(raw))
}

func (s *Store) resetAnonymous(ctx context.Context) {
	if err := s.storage.Delete(ctx, KeyToken, KeyUser); err != nil {
		s.logger.Warn("clear stored session failed", "err", err)
	}
	s.mu.Lock()
	s.setLocked(Anonymous, nil, "")
	s.mu.Unlock()
	s.flush()
}

// setLocked commits new state and queues a transition when the status
// changes. Callers must flush after unlocking.
func (s *Store) setLocked(status Status, user *domain.User, token string) {
	prev := s.status
	s.status = status
	s.user = user
	s.token = token
	if prev == status {
		return
	}
	t := Transition{From: prev, To: status}
	if user != nil {
		u := *user
		t.User = &u
	}
	s.transitions.Enqueue(t)
}

func (s *Store) flush() {
	s.transitions.Flush()
}
