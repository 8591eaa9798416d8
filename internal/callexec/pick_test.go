package callexec_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadpipe/internal/callexec"
	"leadpipe/internal/config"
	"leadpipe/internal/services"
	"leadpipe/internal/testsupport"
)

func TestPickAccountPrefersFreeLeastUsed(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAccounts(
		config.Account{ID: "a", DailyLimit: 5},
		config.Account{ID: "b", DailyLimit: 5},
		config.Account{ID: "c", DailyLimit: 5},
	))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	now := time.Now()

	if _, err := store.ClaimCredential(ctx, "a", "op-a", now); err != nil {
		t.Fatalf("ClaimCredential: %v", err)
	}
	if _, err := store.ClaimCredential(ctx, "b", "op-b", now); err != nil {
		t.Fatalf("ClaimCredential: %v", err)
	}
	if _, err := store.RecordCredentialCall(ctx, "b", "op-b", now); err != nil {
		t.Fatalf("RecordCredentialCall: %v", err)
	}
	if err := store.ReleaseCredential(ctx, "b", "op-b"); err != nil {
		t.Fatalf("ReleaseCredential: %v", err)
	}

	got, err := callexec.PickAccount(ctx, store, nil)
	if err != nil {
		t.Fatalf("PickAccount: %v", err)
	}
	if got != "c" {
		t.Fatalf("expected unused free account c, got %s", got)
	}
}

func TestPickAccountAllExhausted(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAccounts(config.Account{ID: "a", DailyLimit: 1}))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	now := time.Now()
	if _, err := store.ClaimCredential(ctx, "a", "op", now); err != nil {
		t.Fatalf("ClaimCredential: %v", err)
	}
	if _, err := store.RecordCredentialCall(ctx, "a", "op", now); err != nil {
		t.Fatalf("RecordCredentialCall: %v", err)
	}
	_, err := callexec.PickAccount(ctx, store, nil)
	if !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestPickAccountSkipsLoadedAccount(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAccounts(
		config.Account{ID: "a", DailyLimit: 5},
		config.Account{ID: "b", DailyLimit: 5},
	))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	now := time.Now()

	// b has more usage, but a already has calls queued in-process.
	if _, err := store.ClaimCredential(ctx, "b", "op-b", now); err != nil {
		t.Fatalf("ClaimCredential: %v", err)
	}
	if _, err := store.RecordCredentialCall(ctx, "b", "op-b", now); err != nil {
		t.Fatalf("RecordCredentialCall: %v", err)
	}
	if err := store.ReleaseCredential(ctx, "b", "op-b"); err != nil {
		t.Fatalf("ReleaseCredential: %v", err)
	}
	load := map[string]int{"a": 2}

	got, err := callexec.PickAccount(ctx, store, func(id string) int { return load[id] })
	if err != nil {
		t.Fatalf("PickAccount: %v", err)
	}
	if got != "b" {
		t.Fatalf("expected idle account b, got %s", got)
	}
}
