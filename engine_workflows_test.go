package credguard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func withBaseURLs(c *Config) {
	c.EmailChange.BaseURL = "https://app.example.com/email/confirm"
	c.Deletion.BaseURL = "https://app.example.com/account/delete"
}

func TestEmailChangeEndToEnd(t *testing.T) {
	h := newHarness(t, withBaseURLs)
	ctx := context.Background()

	init, err := h.engine.InitiateEmailChange(ctx, "u1", " Alice.New@Example.com ")
	if err != nil {
		t.Fatalf("InitiateEmailChange failed: %v", err)
	}
	if init.NewEmail != "alice.new@example.com" {
		t.Fatalf("expected normalized email, got %q", init.NewEmail)
	}
	if !init.ExpiresAt.Equal(h.clock.Now().Add(24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", init.ExpiresAt)
	}

	msgs := h.notifier.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(msgs))
	}
	if msgs[0].To != "alice@example.com" || msgs[1].To != "alice.new@example.com" {
		t.Fatalf("unexpected recipients: %q, %q", msgs[0].To, msgs[1].To)
	}
	if !strings.Contains(msgs[1].Vars["verification_link"], "token="+init.Token) {
		t.Fatalf("expected verification link with token, got %q", msgs[1].Vars["verification_link"])
	}
	if strings.Contains(msgs[0].Vars["verification_link"], init.Token) {
		t.Fatal("old address must not receive the token")
	}

	res, err := h.engine.ConfirmEmailChange(ctx, init.Token)
	if err != nil {
		t.Fatalf("ConfirmEmailChange failed: %v", err)
	}
	if res.OldEmail != "alice@example.com" || res.NewEmail != "alice.new@example.com" {
		t.Fatalf("unexpected result: %+v", res)
	}
	id, _ := h.store.get("u1")
	if id.Email != "alice.new@example.com" {
		t.Fatalf("expected stored email updated, got %q", id.Email)
	}

	if _, err := h.engine.ConfirmEmailChange(ctx, init.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected replay rejected, got %v", err)
	}
	if _, err := h.engine.Login(ctx, "alice.new@example.com", testPassword); err != nil {
		t.Fatalf("expected login with new email, got %v", err)
	}
}

func TestEmailChangeConcurrentConfirmSingleWinner(t *testing.T) {
	h := newHarness(t)
	init, err := h.engine.InitiateEmailChange(context.Background(), "u1", "race@example.com")
	if err != nil {
		t.Fatalf("InitiateEmailChange failed: %v", err)
	}

	const workers = 16
	var wins, invalid atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.engine.ConfirmEmailChange(context.Background(), init.Token)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrTokenInvalid):
				invalid.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || invalid.Load() != workers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d invalid=%d", wins.Load(), invalid.Load())
	}
}

func TestEmailChangeRejections(t *testing.T) {
	h := newHarness(t)
	h.store.put(Identity{SubjectID: "u2", Email: "bob@example.com", Active: true})
	ctx := context.Background()

	if _, err := h.engine.InitiateEmailChange(ctx, "u1", "not-an-email"); !errors.Is(err, ErrEmailInvalid) {
		t.Fatalf("expected ErrEmailInvalid, got %v", err)
	}
	if _, err := h.engine.InitiateEmailChange(ctx, "u1", "ALICE@example.com"); !errors.Is(err, ErrEmailUnchanged) {
		t.Fatalf("expected ErrEmailUnchanged, got %v", err)
	}
	if _, err := h.engine.InitiateEmailChange(ctx, "u1", "bob@example.com"); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
	if _, err := h.engine.InitiateEmailChange(ctx, "ghost", "ghost@example.com"); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("expected ErrPersonNotFound, got %v", err)
	}
}

func TestEmailChangeNotificationFailure(t *testing.T) {
	h := newHarness(t)
	h.notifier.fail = true

	if _, err := h.engine.InitiateEmailChange(context.Background(), "u1", "new@example.com"); !errors.Is(err, ErrNotificationFailed) {
		t.Fatalf("expected ErrNotificationFailed, got %v", err)
	}
	cancelled, err := h.engine.CancelEmailChange(context.Background(), "u1")
	if err != nil || cancelled {
		t.Fatalf("expected no pending token after failed send, got cancelled=%v err=%v", cancelled, err)
	}
}

func TestEmailChangeAddressTakenBeforeConfirm(t *testing.T) {
	h := newHarness(t)
	init, err := h.engine.InitiateEmailChange(context.Background(), "u1", "contested@example.com")
	if err != nil {
		t.Fatalf("InitiateEmailChange failed: %v", err)
	}
	h.store.put(Identity{SubjectID: "u2", Email: "contested@example.com", Active: true})

	if _, err := h.engine.ConfirmEmailChange(context.Background(), init.Token); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
}

func TestEmailChangeTokenExpires(t *testing.T) {
	h := newHarness(t)
	init, err := h.engine.InitiateEmailChange(context.Background(), "u1", "late@example.com")
	if err != nil {
		t.Fatalf("InitiateEmailChange failed: %v", err)
	}

	h.clock.Advance(24 * time.Hour)

	if _, err := h.engine.ConfirmEmailChange(context.Background(), init.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
	id, _ := h.store.get("u1")
	if id.Email != "alice@example.com" {
		t.Fatalf("expected email unchanged, got %q", id.Email)
	}
}

func TestEmailChangeNewRequestSupersedesOld(t *testing.T) {
	h := newHarness(t)
	first, err := h.engine.InitiateEmailChange(context.Background(), "u1", "first@example.com")
	if err != nil {
		t.Fatalf("first initiate failed: %v", err)
	}
	second, err := h.engine.InitiateEmailChange(context.Background(), "u1", "second@example.com")
	if err != nil {
		t.Fatalf("second initiate failed: %v", err)
	}

	if _, err := h.engine.ConfirmEmailChange(context.Background(), first.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected superseded token rejected, got %v", err)
	}
	if _, err := h.engine.ConfirmEmailChange(context.Background(), second.Token); err != nil {
		t.Fatalf("expected latest token accepted, got %v", err)
	}
}

func TestTokenPurposeIsEnforced(t *testing.T) {
	h := newHarness(t)
	init, err := h.engine.InitiateEmailChange(context.Background(), "u1", "purpose@example.com")
	if err != nil {
		t.Fatalf("InitiateEmailChange failed: %v", err)
	}

	if _, err := h.engine.ConfirmDeletion(context.Background(), init.Token, "u1"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected purpose mismatch rejected, got %v", err)
	}
	if _, ok := h.store.get("u1"); !ok {
		t.Fatal("identity must survive a mismatched deletion attempt")
	}
	if _, err := h.engine.ConfirmEmailChange(context.Background(), init.Token); err != nil {
		t.Fatalf("expected mismatch to leave token redeemable, got %v", err)
	}
}

func TestDeletionBlockedByActiveSubscription(t *testing.T) {
	h := newHarness(t)
	h.subs.set("u1",
		Subscription{ID: "s1", ProjectID: "p1", ProjectName: "Atlas", Status: "Active"},
		Subscription{ID: "s2", ProjectID: "p2", ProjectName: "Borealis", Status: "cancelled"},
		Subscription{ID: "s3", ProjectID: "p1", ProjectName: "Atlas", Status: "pending"},
	)

	_, err := h.engine.InitiateDeletion(context.Background(), "u1", "u1", "leaving")
	if !errors.Is(err, ErrReferentialIntegrity) {
		t.Fatalf("expected ErrReferentialIntegrity, got %v", err)
	}
	var iv *IntegrityViolationError
	if !errors.As(err, &iv) {
		t.Fatalf("expected *IntegrityViolationError, got %T", err)
	}
	if len(iv.Records) != 2 {
		t.Fatalf("expected 2 blocking records, got %d", len(iv.Records))
	}
	if names := iv.ProjectNames(); len(names) != 1 || names[0] != "Atlas" {
		t.Fatalf("unexpected project names %v", names)
	}
	if n, _ := h.engine.PendingDeletionCount(context.Background()); n != 0 {
		t.Fatalf("expected no token issued, got %d pending", n)
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricDeletionBlocked]; got != 1 {
		t.Fatalf("expected MetricDeletionBlocked=1, got %d", got)
	}
}

func TestDeletionEndToEnd(t *testing.T) {
	h := newHarness(t, withBaseURLs)
	ctx := WithUserAgent(WithClientIP(context.Background(), "203.0.113.9"), "test-agent")

	init, err := h.engine.InitiateDeletion(ctx, "u1", "u1", "no longer needed")
	if err != nil {
		t.Fatalf("InitiateDeletion failed: %v", err)
	}
	if !init.ExpiresAt.Equal(h.clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", init.ExpiresAt)
	}
	if n, _ := h.engine.PendingDeletionCount(ctx); n != 1 {
		t.Fatalf("expected 1 pending deletion, got %d", n)
	}
	msgs := h.notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Vars["confirmation_link"], init.Token) {
		t.Fatalf("expected confirmation mail with link, got %+v", msgs)
	}

	res, err := h.engine.ConfirmDeletion(ctx, init.Token, "u1")
	if err != nil {
		t.Fatalf("ConfirmDeletion failed: %v", err)
	}
	if res.SubjectID != "u1" || res.Reason != "no longer needed" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := h.store.get("u1"); ok {
		t.Fatal("expected identity deleted")
	}
	if n, _ := h.engine.PendingDeletionCount(ctx); n != 0 {
		t.Fatalf("expected 0 pending deletions, got %d", n)
	}
	if _, err := h.engine.ConfirmDeletion(ctx, init.Token, "u1"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected replay rejected, got %v", err)
	}
}

func TestDeletionRequesterMismatchSpendsToken(t *testing.T) {
	h := newHarness(t)

	init, err := h.engine.InitiateDeletion(context.Background(), "u1", "admin-1", "gdpr request")
	if err != nil {
		t.Fatalf("InitiateDeletion failed: %v", err)
	}
	if _, err := h.engine.ConfirmDeletion(context.Background(), init.Token, "someone-else"); !errors.Is(err, ErrRequesterMismatch) {
		t.Fatalf("expected ErrRequesterMismatch, got %v", err)
	}
	if _, err := h.engine.ConfirmDeletion(context.Background(), init.Token, "admin-1"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected spent token rejected, got %v", err)
	}
	if _, ok := h.store.get("u1"); !ok {
		t.Fatal("identity must survive")
	}
}

func TestDeletionRechecksSubscriptionsAtConfirm(t *testing.T) {
	h := newHarness(t)

	init, err := h.engine.InitiateDeletion(context.Background(), "u1", "u1", "")
	if err != nil {
		t.Fatalf("InitiateDeletion failed: %v", err)
	}
	h.subs.set("u1", Subscription{ID: "s9", ProjectName: "Late", Status: "active"})

	if _, err := h.engine.ConfirmDeletion(context.Background(), init.Token, "u1"); !errors.Is(err, ErrReferentialIntegrity) {
		t.Fatalf("expected ErrReferentialIntegrity, got %v", err)
	}
	if _, ok := h.store.get("u1"); !ok {
		t.Fatal("identity must survive")
	}
}

func TestDeletionStoreRefusalSurfacesIntegrityViolation(t *testing.T) {
	h := newHarness(t)

	init, err := h.engine.InitiateDeletion(context.Background(), "u1", "u1", "")
	if err != nil {
		t.Fatalf("InitiateDeletion failed: %v", err)
	}
	h.store.beforeDelete = func(subjectID string) error {
		h.subs.set(subjectID, Subscription{ID: "s-late", ProjectName: "Orbit", Status: "pending"})
		return fmt.Errorf("%w: 1 blocking subscription(s) for %s", ErrReferentialIntegrity, subjectID)
	}

	_, err = h.engine.ConfirmDeletion(context.Background(), init.Token, "u1")
	var integrity *IntegrityViolationError
	if !errors.As(err, &integrity) || len(integrity.Records) != 1 || integrity.Records[0].SubscriptionID != "s-late" {
		t.Fatalf("expected IntegrityViolationError naming s-late, got %v", err)
	}
	if _, ok := h.store.get("u1"); !ok {
		t.Fatal("identity must survive")
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricDeletionBlocked]; got != 1 {
		t.Fatalf("expected MetricDeletionBlocked=1, got %d", got)
	}
}

func TestDeletionStoreNotFoundIsPersonNotFound(t *testing.T) {
	h := newHarness(t)

	init, err := h.engine.InitiateDeletion(context.Background(), "u1", "u1", "")
	if err != nil {
		t.Fatalf("InitiateDeletion failed: %v", err)
	}
	h.store.beforeDelete = func(subjectID string) error {
		return fmt.Errorf("%w: %s", ErrPersonNotFound, subjectID)
	}

	if _, err := h.engine.ConfirmDeletion(context.Background(), init.Token, "u1"); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("expected ErrPersonNotFound, got %v", err)
	}
}

func TestDeletionTokenExpires(t *testing.T) {
	h := newHarness(t)

	init, err := h.engine.InitiateDeletion(context.Background(), "u1", "u1", "")
	if err != nil {
		t.Fatalf("InitiateDeletion failed: %v", err)
	}
	h.clock.Advance(15 * time.Minute)

	if _, err := h.engine.ConfirmDeletion(context.Background(), init.Token, "u1"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestDeletionCancel(t *testing.T) {
	h := newHarness(t)

	init, err := h.engine.InitiateDeletion(context.Background(), "u1", "u1", "")
	if err != nil {
		t.Fatalf("InitiateDeletion failed: %v", err)
	}
	cancelled, err := h.engine.CancelDeletion(context.Background(), "u1")
	if err != nil || !cancelled {
		t.Fatalf("expected cancel, got cancelled=%v err=%v", cancelled, err)
	}
	if _, err := h.engine.ConfirmDeletion(context.Background(), init.Token, "u1"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected cancelled token rejected, got %v", err)
	}
}

func TestDeletionInitiateValidation(t *testing.T) {
	h := newHarness(t)

	if _, err := h.engine.InitiateDeletion(context.Background(), "", "u1", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := h.engine.InitiateDeletion(context.Background(), "ghost", "ghost", ""); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("expected ErrPersonNotFound, got %v", err)
	}
}

func TestSweepConfirmationTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.InitiateDeletion(ctx, "u1", "u1", ""); err != nil {
		t.Fatalf("InitiateDeletion failed: %v", err)
	}
	if _, err := h.engine.InitiateEmailChange(ctx, "u1", "sweep@example.com"); err != nil {
		t.Fatalf("InitiateEmailChange failed: %v", err)
	}

	n, err := h.engine.SweepConfirmationTokens(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing swept before expiry, got n=%d err=%v", n, err)
	}

	h.clock.Advance(25 * time.Hour)
	n, err = h.engine.SweepConfirmationTokens(ctx)
	if err != nil {
		t.Fatalf("SweepConfirmationTokens failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 swept, got %d", n)
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricConfirmationSwept]; got != 2 {
		t.Fatalf("expected MetricConfirmationSwept=2, got %d", got)
	}
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	h := newHarness(t)

	if _, err := NewSweeper(h.engine, "not a schedule", h.engine.logger); err == nil {
		t.Fatal("expected schedule error")
	}
	s, err := NewSweeper(h.engine, "", h.engine.logger)
	if err != nil {
		t.Fatalf("NewSweeper with default schedule failed: %v", err)
	}
	s.Start()
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
}
