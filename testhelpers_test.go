package credguard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/credguard/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword   = "Correct#Horse1"
	testSigningKey = "0123456789abcdef0123456789abcdef"
)

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.JWT.SigningKey = []byte(testSigningKey)
	cfg.Metrics.Enabled = true
	cfg.Lockout.Threshold = 3
	cfg.Lockout.Duration = 10 * time.Minute
	return cfg
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeIdentityStore struct {
	mu         sync.Mutex
	identities map[string]Identity
	updates    int
	failWrites bool

	// beforeDelete, when set, runs inside DeleteIdentity and may refuse it.
	beforeDelete func(subjectID string) error
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{identities: map[string]Identity{}}
}

func (s *fakeIdentityStore) put(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[id.SubjectID] = id
}

func (s *fakeIdentityStore) get(subjectID string) (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[subjectID]
	return id, ok
}

func (s *fakeIdentityStore) GetIdentity(_ context.Context, subjectID string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[subjectID]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", ErrPersonNotFound, subjectID)
	}
	id.PasswordHistory = append([]string(nil), id.PasswordHistory...)
	return id, nil
}

func (s *fakeIdentityStore) GetIdentityByEmail(_ context.Context, email string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.identities {
		if strings.EqualFold(id.Email, email) {
			return id, nil
		}
	}
	return Identity{}, ErrPersonNotFound
}

func (s *fakeIdentityStore) UpdateCredential(_ context.Context, subjectID string, update CredentialUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return fmt.Errorf("write refused")
	}
	id, ok := s.identities[subjectID]
	if !ok {
		return ErrPersonNotFound
	}
	id.PasswordHash = update.PasswordHash
	id.PasswordHistory = append([]string(nil), update.PasswordHistory...)
	id.RequirePasswordChange = update.RequirePasswordChange
	s.identities[subjectID] = id
	s.updates++
	return nil
}

func (s *fakeIdentityStore) UpdateEmail(_ context.Context, subjectID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for other, id := range s.identities {
		if other != subjectID && strings.EqualFold(id.Email, email) {
			return ErrEmailInUse
		}
	}
	id, ok := s.identities[subjectID]
	if !ok {
		return ErrPersonNotFound
	}
	id.Email = email
	s.identities[subjectID] = id
	return nil
}

func (s *fakeIdentityStore) DeleteIdentity(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[subjectID]; !ok {
		return ErrPersonNotFound
	}
	if s.beforeDelete != nil {
		if err := s.beforeDelete(subjectID); err != nil {
			return err
		}
	}
	delete(s.identities, subjectID)
	return nil
}

type fakeSubscriptions struct {
	mu   sync.Mutex
	subs map[string][]Subscription
}

func (f *fakeSubscriptions) set(subjectID string, subs ...Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = map[string][]Subscription{}
	}
	f.subs[subjectID] = subs
}

func (f *fakeSubscriptions) ListSubscriptions(_ context.Context, subjectID string) ([]Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Subscription(nil), f.subs[subjectID]...), nil
}

type sentMessage struct {
	To       string
	Template string
	Vars     map[string]string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
}

func (n *fakeNotifier) Send(_ context.Context, to, template string, vars map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return fmt.Errorf("smtp unavailable")
	}
	n.sent = append(n.sent, sentMessage{To: to, Template: template, Vars: vars})
	return nil
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type testHarness struct {
	engine   *Engine
	clock    *fakeClock
	store    *fakeIdentityStore
	subs     *fakeSubscriptions
	notifier *fakeNotifier
	redis    *miniredis.Miniredis
}

type harnessOption func(*Config)

// newHarness builds an Engine over miniredis with one active identity u1
// whose password is testPassword.
func newHarness(t testing.TB, opts ...harnessOption) *testHarness {
	t.Helper()

	cfg := testConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	mr, rdb := newTestRedis(t)
	h := &testHarness{
		clock:    newFakeClock(),
		store:    newFakeIdentityStore(),
		subs:     &fakeSubscriptions{},
		notifier: &fakeNotifier{},
		redis:    mr,
	}
	h.store.put(Identity{
		SubjectID:       "u1",
		Email:           "alice@example.com",
		FirstName:       "Alice",
		LastName:        "Liddell",
		Active:          true,
		PasswordHash:    mustHash(t, testPassword),
		PasswordHistory: nil,
	})

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(h.store).
		WithSubscriptions(h.subs).
		WithNotifier(h.notifier).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

func mustHash(t testing.TB, plaintext string) string {
	t.Helper()
	h, err := password.NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt failed: %v", err)
	}
	hash, err := h.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	return hash
}

func operatorCtx() context.Context {
	return WithOperator(context.Background(), "admin-1")
}
