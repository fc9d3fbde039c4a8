package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/credguard"
	"github.com/MrEthical07/credguard/store/postgres"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const envTestDatabaseURL = "CREDGUARD_TEST_DATABASE_URL"

func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	url := os.Getenv(envTestDatabaseURL)
	if url == "" {
		t.Skipf("%s not set", envTestDatabaseURL)
	}

	require.NoError(t, postgres.Migrate(url), "Failed to run migrations")
	require.NoError(t, postgres.Migrate(url), "Migrate should be idempotent")

	db, err := postgres.Open(url, postgres.PoolConfig{MaxOpenConns: 4})
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`TRUNCATE subscriptions, projects, persons`)
	require.NoError(t, err)

	return postgres.New(db)
}

func seed(t *testing.T, s *postgres.Store, email string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("Correct#Horse1"), bcrypt.MinCost)
	require.NoError(t, err)

	id, err := s.CreateIdentity(context.Background(), credguard.Identity{
		Email:        email,
		FirstName:    "Alice",
		LastName:     "Liddell",
		Active:       true,
		PasswordHash: string(hash),
	})
	require.NoError(t, err)
	return id
}

func TestIdentityLookups(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := seed(t, s, "Alice@Example.com")

	got, err := s.GetIdentity(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", got.Email)
	require.Equal(t, "Alice", got.FirstName)
	require.True(t, got.Active)
	require.Empty(t, got.PasswordHistory)

	byEmail, err := s.GetIdentityByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.Equal(t, id, byEmail.SubjectID)

	_, err = s.GetIdentity(ctx, "missing")
	require.ErrorIs(t, err, credguard.ErrPersonNotFound)
	_, err = s.GetIdentityByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, credguard.ErrPersonNotFound)
}

func TestUpdateCredential(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := seed(t, s, "alice@example.com")

	err := s.UpdateCredential(ctx, id, credguard.CredentialUpdate{
		PasswordHash:          "new-hash",
		PasswordHistory:       []string{"new-hash", "old-hash"},
		RequirePasswordChange: true,
	})
	require.NoError(t, err)

	got, err := s.GetIdentity(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "new-hash", got.PasswordHash)
	require.Equal(t, []string{"new-hash", "old-hash"}, got.PasswordHistory)
	require.True(t, got.RequirePasswordChange)

	err = s.UpdateCredential(ctx, "missing", credguard.CredentialUpdate{})
	require.ErrorIs(t, err, credguard.ErrPersonNotFound)
}

func TestUpdateEmailUniqueness(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	alice := seed(t, s, "alice@example.com")
	bob := seed(t, s, "bob@example.com")

	require.ErrorIs(t, s.UpdateEmail(ctx, bob, "ALICE@example.com"), credguard.ErrEmailInUse)
	require.NoError(t, s.UpdateEmail(ctx, alice, "alice@new.example.com"))

	_, err := s.CreateIdentity(ctx, credguard.Identity{Email: "bob@example.com"})
	require.ErrorIs(t, err, credguard.ErrEmailInUse)
}

func TestUpdateEmailRaceHasOneWinner(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ids := []string{seed(t, s, "a@example.com"), seed(t, s, "b@example.com"), seed(t, s, "c@example.com")}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = s.UpdateEmail(ctx, id, "contested@example.com")
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, credguard.ErrEmailInUse)
	}
	require.Equal(t, 1, wins)
}

func TestSubscriptionsAndDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := seed(t, s, "alice@example.com")

	project, err := s.CreateProject(ctx, "Atlas")
	require.NoError(t, err)
	_, err = s.AddSubscription(ctx, id, project, "expired")
	require.NoError(t, err)
	_, err = s.AddSubscription(ctx, id, project, "cancelled")
	require.NoError(t, err)

	subs, err := s.ListSubscriptions(ctx, id)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Equal(t, "Atlas", subs[0].ProjectName)
	require.Equal(t, project, subs[0].ProjectID)
	require.False(t, subs[0].CreatedAt.IsZero())

	require.NoError(t, s.DeleteIdentity(ctx, id))
	subs, err = s.ListSubscriptions(ctx, id)
	require.NoError(t, err)
	require.Empty(t, subs)

	require.ErrorIs(t, s.DeleteIdentity(ctx, id), credguard.ErrPersonNotFound)
}

func TestDeleteIdentityRefusesBlockingSubscription(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := seed(t, s, "alice@example.com")

	project, err := s.CreateProject(ctx, "Atlas")
	require.NoError(t, err)
	_, err = s.AddSubscription(ctx, id, project, "Pending")
	require.NoError(t, err)

	require.ErrorIs(t, s.DeleteIdentity(ctx, id), credguard.ErrReferentialIntegrity)

	_, err = s.GetIdentity(ctx, id)
	require.NoError(t, err, "person must survive a refused delete")
	subs, err := s.ListSubscriptions(ctx, id)
	require.NoError(t, err)
	require.Len(t, subs, 1)
}

func TestDeleteIdentityWaitsForInFlightSubscription(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := seed(t, s, "alice@example.com")

	project, err := s.CreateProject(ctx, "Atlas")
	require.NoError(t, err)

	// Hold an uncommitted insert; its foreign key check locks the person row.
	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions (id, person_id, project_id, status) VALUES ($1, $2, $3, 'active')`,
		"sub-in-flight", id, project)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.DeleteIdentity(ctx, id) }()

	select {
	case err := <-done:
		t.Fatalf("delete finished while the insert was in flight: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	require.NoError(t, tx.Commit())

	require.ErrorIs(t, <-done, credguard.ErrReferentialIntegrity)
	subs, err := s.ListSubscriptions(ctx, id)
	require.NoError(t, err)
	require.Len(t, subs, 1, "subscription must not be cascaded away")
}

func TestEngineLoginAgainstPostgres(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := seed(t, s, "alice@example.com")

	cfg := credguard.DefaultConfig()
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.JWT.SigningKey = []byte("0123456789abcdef0123456789abcdef")

	engine, err := credguard.New().
		WithConfig(cfg).
		WithIdentityStore(s).
		WithSubscriptions(s).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	res, err := engine.Login(ctx, "alice@example.com", "Correct#Horse1")
	require.NoError(t, err)
	require.Equal(t, id, res.SubjectID)

	change, err := engine.UpdatePassword(ctx, id, "Correct#Horse1", "Battery#Staple2")
	require.NoError(t, err)
	require.True(t, change.RequireReauth)

	got, err := s.GetIdentity(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.PasswordHistory, 2)

	project, err := s.CreateProject(ctx, "Atlas")
	require.NoError(t, err)
	_, err = s.AddSubscription(ctx, id, project, "active")
	require.NoError(t, err)

	_, err = engine.InitiateDeletion(ctx, id, id, "leaving")
	var integrity *credguard.IntegrityViolationError
	require.ErrorAs(t, err, &integrity)
	require.Len(t, integrity.Records, 1)
}
