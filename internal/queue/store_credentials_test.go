package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadpipe/internal/config"
	"leadpipe/internal/queue"
	"leadpipe/internal/testsupport"
)

func TestCredentialClaimLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAccounts(config.Account{ID: "acct-1", DailyLimit: 2}))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	cred, err := store.ClaimCredential(ctx, "acct-1", "op-1", now)
	if err != nil {
		t.Fatalf("ClaimCredential: %v", err)
	}
	if cred.CurrentOperationID != "op-1" || cred.OperationStartedAt == nil {
		t.Fatalf("unexpected claim %#v", cred)
	}
	if _, err := store.ClaimCredential(ctx, "acct-1", "op-2", now); !errors.Is(err, queue.ErrCredentialBusy) {
		t.Fatalf("expected ErrCredentialBusy, got %v", err)
	}

	for i := range 2 {
		if _, err := store.RecordCredentialCall(ctx, "acct-1", "op-1", now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordCredentialCall %d: %v", i, err)
		}
	}
	if _, err := store.RecordCredentialCall(ctx, "acct-1", "op-1", now); !errors.Is(err, queue.ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}
	if err := store.ReleaseCredential(ctx, "acct-1", "op-2"); !errors.Is(err, queue.ErrOperationMismatch) {
		t.Fatalf("expected ErrOperationMismatch, got %v", err)
	}
	if err := store.ReleaseCredential(ctx, "acct-1", "op-1"); err != nil {
		t.Fatalf("ReleaseCredential: %v", err)
	}

	if _, err := store.ClaimCredential(ctx, "acct-1", "op-3", now); !errors.Is(err, queue.ErrQuotaExhausted) {
		t.Fatalf("expected quota exhaustion on same day, got %v", err)
	}
	tomorrow := now.Add(24 * time.Hour)
	cred, err = store.ClaimCredential(ctx, "acct-1", "op-3", tomorrow)
	if err != nil {
		t.Fatalf("ClaimCredential next day: %v", err)
	}
	if cred.DailyUsageCount != 0 || cred.UsageDate != queue.UsageDay(tomorrow) {
		t.Fatalf("expected usage reset, got %#v", cred)
	}
	if cred.TotalCalls != 2 || cred.LastCallAt == nil {
		t.Fatalf("expected lifetime counters to persist, got %#v", cred)
	}
}

func TestForceReleaseCredentials(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAccounts(
		config.Account{ID: "a", DailyLimit: 10},
		config.Account{ID: "b", DailyLimit: 10},
	))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := store.ClaimCredential(ctx, "a", "old-op", now.Add(-time.Hour)); err != nil {
		t.Fatalf("ClaimCredential a: %v", err)
	}
	if _, err := store.ClaimCredential(ctx, "b", "new-op", now); err != nil {
		t.Fatalf("ClaimCredential b: %v", err)
	}
	released, err := store.ForceReleaseCredentials(ctx, now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("ForceReleaseCredentials: %v", err)
	}
	if len(released) != 1 || released[0] != "a" {
		t.Fatalf("expected only a released, got %v", released)
	}
	creds, err := store.ListCredentials(ctx)
	if err != nil {
		t.Fatalf("ListCredentials: %v", err)
	}
	for _, cred := range creds {
		switch cred.AccountID {
		case "a":
			if cred.Busy() {
				t.Fatal("a should be free")
			}
		case "b":
			if !cred.Busy() {
				t.Fatal("b should still be held")
			}
		}
	}
}

func TestClaimUnknownCredential(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	_, err := store.ClaimCredential(context.Background(), "missing", "op", time.Now())
	if !errors.Is(err, queue.ErrUnknownCredential) {
		t.Fatalf("expected ErrUnknownCredential, got %v", err)
	}
}
