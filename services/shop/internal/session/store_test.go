package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"storefront/internal/ratelimit"
	"storefront/pkg/domain"
	"storefront/pkg/kv"
	"storefront/services/shop/internal/apiclient"
)

type fakeAuth struct {
	mu         sync.Mutex
	loginCalls int
	user       domain.User
	token      string
	loginErr   error
	regErr     error
	profile    domain.User
	profileErr error
}

func (f *fakeAuth) Login(_ context.Context, creds domain.LoginCredentials) (domain.User, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return domain.User{}, "", f.loginErr
	}
	return f.user, f.token, nil
}

func (f *fakeAuth) Register(_ context.Context, creds domain.RegisterCredentials) (domain.User, string, error) {
	if f.regErr != nil {
		return domain.User{}, "", f.regErr
	}
	return domain.User{ID: 11, Email: creds.Email, Name: creds.Name}, "reg-token", nil
}

func (f *fakeAuth) Profile(context.Context, string) (domain.User, error) {
	return f.profile, f.profileErr
}

func (f *fakeAuth) UpdateProfile(_ context.Context, _ string, update domain.ProfileUpdate) (domain.User, error) {
	if f.profileErr != nil {
		return domain.User{}, f.profileErr
	}
	u := f.user
	u.Name = update.Name
	return u, nil
}

var unauthorized = &apiclient.APIError{Status: http.StatusUnauthorized, Message: "Invalid email or password"}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": 1, "exp": exp.Unix()})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func seed(t *testing.T, store kv.Store, token string, user domain.User) {
	t.Helper()
	raw, _ := json.Marshal(user)
	ctx := context.Background()
	if err := store.Set(ctx, KeyToken, token); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	if err := store.Set(ctx, KeyUser, string(raw)); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func record(s *Store) *[]Transition {
	var got []Transition
	s.Subscribe(func(t Transition) { got = append(got, t) })
	return &got
}

func TestRestoreWithStoredSession(t *testing.T) {
	storage := kv.NewMemoryStore()
	seed(t, storage, "opaque-token", domain.User{ID: 1, Email: "a@example.com", Name: "Ana"})
	s := NewStore(&fakeAuth{}, storage, Options{})
	got := record(s)

	if s.Status() != Unknown {
		t.Fatalf("status before restore = %v", s.Status())
	}
	status, err := s.Restore(context.Background())
	if err != nil || status != Authenticated {
		t.Fatalf("restore = %v, %v", status, err)
	}
	snap := s.Snapshot()
	if snap.User == nil || snap.User.Name != "Ana" || snap.Token != "opaque-token" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(*got) != 1 || (*got)[0].From != Unknown || (*got)[0].To != Authenticated {
		t.Fatalf("unexpected transitions: %+v", *got)
	}
}

func TestRestoreWithoutSessionIsAnonymous(t *testing.T) {
	storage := kv.NewMemoryStore()
	_ = storage.Set(context.Background(), KeyToken, "token-without-user")
	s := NewStore(&fakeAuth{}, storage, Options{})
	got := record(s)

	status, err := s.Restore(context.Background())
	if err != nil || status != Anonymous {
		t.Fatalf("restore = %v, %v", status, err)
	}
	if len(*got) != 1 || (*got)[0].To != Anonymous {
		t.Fatalf("Unknown -> Anonymous must be observable: %+v", *got)
	}
}

func TestRestoreRunsOnce(t *testing.T) {
	storage := kv.NewMemoryStore()
	s := NewStore(&fakeAuth{}, storage, Options{})
	if status, _ := s.Restore(context.Background()); status != Anonymous {
		t.Fatalf("first restore = %v", status)
	}
	seed(t, storage, "late-token", domain.User{ID: 1})
	if status, _ := s.Restore(context.Background()); status != Anonymous {
		t.Fatalf("second restore must be a no-op, got %v", status)
	}
}

func TestRestoreRejectsExpiredJWT(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	storage := kv.NewMemoryStore()
	seed(t, storage, signed(t, now.Add(-time.Minute)), domain.User{ID: 1})
	s := NewStore(&fakeAuth{}, storage, Options{Now: func() time.Time { return now }})

	status, err := s.Restore(context.Background())
	if err != nil || status != Anonymous {
		t.Fatalf("restore = %v, %v", status, err)
	}
	if storage.Len() != 0 {
		t.Fatalf("expired session should be cleared from storage")
	}
}

func TestRestoreAcceptsLiveJWT(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	storage := kv.NewMemoryStore()
	seed(t, storage, signed(t, now.Add(time.Hour)), domain.User{ID: 1})
	s := NewStore(&fakeAuth{}, storage, Options{Now: func() time.Time { return now }})
	if status, _ := s.Restore(context.Background()); status != Authenticated {
		t.Fatalf("restore = %v", status)
	}
}

func TestRestoreWithCorruptUserIsAnonymous(t *testing.T) {
	storage := kv.NewMemoryStore()
	_ = storage.Set(context.Background(), KeyToken, "t")
	_ = storage.Set(context.Background(), KeyUser, "{not json")
	s := NewStore(&fakeAuth{}, storage, Options{})
	status, err := s.Restore(context.Background())
	if status != Anonymous || err == nil {
		t.Fatalf("restore = %v, %v", status, err)
	}
}

func TestRestoreWithEmptyUserIsAnonymous(t *testing.T) {
	for _, raw := range []string{"null", "{}", `{"email":"x@example.com"}`} {
		storage := kv.NewMemoryStore()
		_ = storage.Set(context.Background(), KeyToken, "opaque")
		_ = storage.Set(context.Background(), KeyUser, raw)
		s := NewStore(&fakeAuth{}, storage, Options{})
		status, err := s.Restore(context.Background())
		if status != Anonymous || err != nil {
			t.Fatalf("user %s: restore = %v, %v", raw, status, err)
		}
		if snap := s.Snapshot(); snap.User != nil || snap.Token != "" {
			t.Fatalf("user %s: identity kept: %+v", raw, snap)
		}
		if storage.Len() != 0 {
			t.Fatalf("user %s: stored session not cleared", raw)
		}
	}
}

func TestLoginPersistsSession(t *testing.T) {
	storage := kv.NewMemoryStore()
	api := &fakeAuth{user: domain.User{ID: 5, Email: "b@example.com", Name: "Budi"}, token: "tok-5"}
	s := NewStore(api, storage, Options{})
	_, _ = s.Restore(context.Background())
	got := record(s)

	user, err := s.Login(context.Background(), domain.LoginCredentials{Email: "b@example.com", Password: "secret1"})
	if err != nil || user.ID != 5 {
		t.Fatalf("login = %+v, %v", user, err)
	}
	if s.Status() != Authenticated || s.Token() != "tok-5" {
		t.Fatalf("unexpected state: %+v", s.Snapshot())
	}
	token, _, _ := storage.Get(context.Background(), KeyToken)
	raw, _, _ := storage.Get(context.Background(), KeyUser)
	var stored domain.User
	_ = json.Unmarshal([]byte(raw), &stored)
	if token != "tok-5" || stored.Email != "b@example.com" {
		t.Fatalf("session not persisted: %q %q", token, raw)
	}
	if len(*got) != 1 || (*got)[0].From != Anonymous || (*got)[0].To != Authenticated || (*got)[0].User.ID != 5 {
		t.Fatalf("unexpected transitions: %+v", *got)
	}

	// A new process restores what login stored.
	restored := NewStore(api, storage, Options{})
	if status, _ := restored.Restore(context.Background()); status != Authenticated {
		t.Fatalf("restored status = %v", status)
	}
}

func TestLoginFailureLeavesAnonymous(t *testing.T) {
	storage := kv.NewMemoryStore()
	seed(t, storage, "old", domain.User{ID: 1})
	api := &fakeAuth{user: domain.User{ID: 1}, token: "old"}
	s := NewStore(api, storage, Options{})
	_, _ = s.Restore(context.Background())

	api.loginErr = unauthorized
	_, err := s.Login(context.Background(), domain.LoginCredentials{Email: "a@example.com", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if apiclient.Message(err, "Login failed") != "Invalid email or password" {
		t.Fatalf("server message lost: %v", err)
	}
	snap := s.Snapshot()
	if snap.Status != Anonymous || snap.User != nil || snap.Token != "" {
		t.Fatalf("failed login must leave Anonymous with no identity: %+v", snap)
	}
	if storage.Len() != 0 {
		t.Fatalf("failed login must clear stored session")
	}
	if api.loginCalls != 1 {
		t.Fatalf("login must not retry, calls = %d", api.loginCalls)
	}
}

func TestLoginBeforeRestoreSettlesStatus(t *testing.T) {
	storage := kv.NewMemoryStore()
	api := &fakeAuth{loginErr: errors.New("network down")}
	s := NewStore(api, storage, Options{})
	if _, err := s.Login(context.Background(), domain.LoginCredentials{Email: "a@example.com"}); err == nil {
		t.Fatalf("expected error")
	}
	if s.Status() != Anonymous {
		t.Fatalf("status = %v, never Unknown after a failed login", s.Status())
	}
	seed(t, storage, "t", domain.User{ID: 1})
	if status, _ := s.Restore(context.Background()); status != Anonymous {
		t.Fatalf("restore after login must not override: %v", status)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	storage := kv.NewMemoryStore()
	seed(t, storage, "t", domain.User{ID: 1})
	s := NewStore(&fakeAuth{}, storage, Options{})
	_, _ = s.Restore(context.Background())
	got := record(s)

	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if s.Status() != Anonymous || storage.Len() != 0 {
		t.Fatalf("logout left state behind")
	}
	if len(*got) != 1 || (*got)[0].To != Anonymous {
		t.Fatalf("expected exactly one transition, got %+v", *got)
	}
}

func TestRegisterDoesNotSignIn(t *testing.T) {
	storage := kv.NewMemoryStore()
	s := NewStore(&fakeAuth{}, storage, Options{})
	_, _ = s.Restore(context.Background())
	user, err := s.Register(context.Background(), domain.RegisterCredentials{Email: "c@example.com", Password: "secret1", Name: "Citra"})
	if err != nil || user.ID != 11 {
		t.Fatalf("register = %+v, %v", user, err)
	}
	if s.Status() != Anonymous || storage.Len() != 0 {
		t.Fatalf("register must not sign in")
	}
}

func TestRegisterConflictMapsToEmailTaken(t *testing.T) {
	api := &fakeAuth{regErr: &apiclient.APIError{Status: http.StatusConflict, Message: "Email already exists"}}
	s := NewStore(api, kv.NewMemoryStore(), Options{})
	_, err := s.Register(context.Background(), domain.RegisterCredentials{Email: "c@example.com"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRefreshProfile(t *testing.T) {
	storage := kv.NewMemoryStore()
	seed(t, storage, "t", domain.User{ID: 1, Name: "old"})
	api := &fakeAuth{profile: domain.User{ID: 1, Name: "new"}}
	s := NewStore(api, storage, Options{})

	if _, err := s.RefreshProfile(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated before restore, got %v", err)
	}
	_, _ = s.Restore(context.Background())
	user, err := s.RefreshProfile(context.Background())
	if err != nil || user.Name != "new" || s.Snapshot().User.Name != "new" {
		t.Fatalf("refresh = %+v, %v", user, err)
	}
	raw, _, _ := storage.Get(context.Background(), KeyUser)
	var stored domain.User
	_ = json.Unmarshal([]byte(raw), &stored)
	if stored.Name != "new" {
		t.Fatalf("refreshed profile not persisted: %s", raw)
	}

	api.profileErr = &apiclient.APIError{Status: http.StatusUnauthorized, Message: "Invalid token"}
	if _, err := s.RefreshProfile(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if s.Status() != Anonymous || storage.Len() != 0 {
		t.Fatalf("rejected token must sign out")
	}
}

func TestUpdateProfile(t *testing.T) {
	storage := kv.NewMemoryStore()
	seed(t, storage, "t", domain.User{ID: 1, Name: "old"})
	api := &fakeAuth{user: domain.User{ID: 1, Name: "old"}}
	s := NewStore(api, storage, Options{})
	_, _ = s.Restore(context.Background())

	user, err := s.UpdateProfile(context.Background(), domain.ProfileUpdate{Name: "Dewi"})
	if err != nil || user.Name != "Dewi" || s.Snapshot().User.Name != "Dewi" {
		t.Fatalf("update = %+v, %v", user, err)
	}
}

func TestSubscribersSeeOrderedTransitionsAndCanUnsubscribe(t *testing.T) {
	api := &fakeAuth{user: domain.User{ID: 1}, token: "t"}
	s := NewStore(api, kv.NewMemoryStore(), Options{})
	var first, second []Status
	s.Subscribe(func(t Transition) { first = append(first, t.To) })
	unsubscribe := s.Subscribe(func(t Transition) { second = append(second, t.To) })

	_, _ = s.Restore(context.Background())
	_, _ = s.Login(context.Background(), domain.LoginCredentials{Email: "a@example.com"})
	unsubscribe()
	_ = s.Logout(context.Background())

	want := []Status{Anonymous, Authenticated, Anonymous}
	if len(first) != len(want) {
		t.Fatalf("first listener got %v", first)
	}
	for i := range want {
		if first[i] != want[i] {
			t.Fatalf("first listener got %v, want %v", first, want)
		}
	}
	if len(second) != 2 {
		t.Fatalf("unsubscribed listener still called: %v", second)
	}
}

func TestListenerMayCallBackIntoStore(t *testing.T) {
	api := &fakeAuth{user: domain.User{ID: 1}, token: "t"}
	s := NewStore(api, kv.NewMemoryStore(), Options{})
	var seen []Status
	s.Subscribe(func(t Transition) {
		seen = append(seen, s.Status())
		if t.To == Authenticated {
			_ = s.Logout(context.Background())
		}
	})
	_, _ = s.Login(context.Background(), domain.LoginCredentials{Email: "a@example.com"})
	if s.Status() != Anonymous {
		t.Fatalf("nested logout lost")
	}
	if len(seen) != 2 {
		t.Fatalf("expected two deliveries, got %v", seen)
	}
}

func TestLoginThrottleWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(ratelimit.Config{
		Addr:   mr.Addr(),
		Limit:  2,
		Window: time.Minute,
	})
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	storage, err := kv.NewRedisStore(kv.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("kv: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })

	api := &fakeAuth{loginErr: unauthorized}
	s := NewStore(api, storage, Options{Limiter: limiter})
	creds := domain.LoginCredentials{Email: "A@Example.com", Password: "bad"}
	for i := 0; i < 2; i++ {
		if _, err := s.Login(context.Background(), creds); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := s.Login(context.Background(), creds); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
	if api.loginCalls != 2 {
		t.Fatalf("throttled attempt must not reach the backend, calls = %d", api.loginCalls)
	}
	if s.Status() != Anonymous {
		t.Fatalf("status = %v", s.Status())
	}

	api.loginErr = nil
	api.user = domain.User{ID: 3}
	api.token = "fresh"
	if _, err := s.Login(context.Background(), domain.LoginCredentials{Email: "other@example.com"}); err != nil {
		t.Fatalf("other account should not be throttled: %v", err)
	}
	if token, ok, _ := storage.Get(context.Background(), KeyToken); !ok || token != "fresh" {
		t.Fatalf("redis storage not written: %q %v", token, ok)
	}
}

func TestLoginProceedsWhenThrottleIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(ratelimit.Config{
		Addr:   mr.Addr(),
		Limit:  1,
		Window: time.Minute,
	})
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	mr.Close()

	api := &fakeAuth{user: domain.User{ID: 9, Email: "c@example.com"}, token: "tok-9"}
	s := NewStore(api, kv.NewMemoryStore(), Options{Limiter: limiter})
	user, err := s.Login(context.Background(), domain.LoginCredentials{Email: "c@example.com", Password: "secret1"})
	if err != nil || user.ID != 9 {
		t.Fatalf("login with throttle down = %+v, %v", user, err)
	}
	if api.loginCalls != 1 || s.Status() != Authenticated {
		t.Fatalf("calls = %d, status = %v", api.loginCalls, s.Status())
	}
}
