package redisledger

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"leadpipe/internal/queue"
)

func newTestLedger(t *testing.T, specs ...queue.CredentialSpec) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewWithClient(client, "test")
	if err := l.SyncCredentials(context.Background(), specs); err != nil {
		t.Fatalf("SyncCredentials: %v", err)
	}
	return l, mr
}

func TestLedgerScripts(t *testing.T) {
	day1 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	type step struct {
		action  string // claim, record, release
		account string
		op      string
		at      time.Time
		want    error
	}
	tests := []struct {
		name  string
		limit int
		steps []step
	}{
		{
			name:  "claim busy release",
			limit: 10,
			steps: []step{
				{action: "claim", account: "a", op: "op-1", at: day1},
				{action: "claim", account: "a", op: "op-2", at: day1, want: queue.ErrCredentialBusy},
				{action: "claim", account: "a", op: "op-1", at: day1},
				{action: "record", account: "a", op: "op-2", at: day1, want: queue.ErrOperationMismatch},
				{action: "release", account: "a", op: "op-2", want: queue.ErrOperationMismatch},
				{action: "release", account: "a", op: "op-1"},
				{action: "claim", account: "a", op: "op-2", at: day1},
			},
		},
		{
			name:  "quota exhaustion",
			limit: 2,
			steps: []step{
				{action: "claim", account: "a", op: "op-1", at: day1},
				{action: "record", account: "a", op: "op-1", at: day1},
				{action: "record", account: "a", op: "op-1", at: day1},
				{action: "record", account: "a", op: "op-1", at: day1, want: queue.ErrQuotaExhausted},
				{action: "release", account: "a", op: "op-1"},
				{action: "claim", account: "a", op: "op-2", at: day1, want: queue.ErrQuotaExhausted},
			},
		},
		{
			name:  "usage rolls over on a new day",
			limit: 1,
			steps: []step{
				{action: "claim", account: "a", op: "op-1", at: day1},
				{action: "record", account: "a", op: "op-1", at: day1},
				{action: "record", account: "a", op: "op-1", at: day1, want: queue.ErrQuotaExhausted},
				{action: "release", account: "a", op: "op-1"},
				{action: "claim", account: "a", op: "op-2", at: day2},
				{action: "record", account: "a", op: "op-2", at: day2},
			},
		},
		{
			name:  "unlimited account",
			limit: 0,
			steps: []step{
				{action: "claim", account: "a", op: "op-1", at: day1},
				{action: "record", account: "a", op: "op-1", at: day1},
				{action: "record", account: "a", op: "op-1", at: day1},
				{action: "record", account: "a", op: "op-1", at: day1},
			},
		},
		{
			name:  "unknown account",
			limit: 10,
			steps: []step{
				{action: "claim", account: "missing", op: "op-1", at: day1, want: queue.ErrUnknownCredential},
				{action: "record", account: "missing", op: "op-1", at: day1, want: queue.ErrUnknownCredential},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLedger(t, queue.CredentialSpec{AccountID: "a", DailyLimit: tt.limit})
			ctx := context.Background()
			for i, s := range tt.steps {
				var err error
				switch s.action {
				case "claim":
					_, err = l.ClaimCredential(ctx, s.account, s.op, s.at)
				case "record":
					_, err = l.RecordCredentialCall(ctx, s.account, s.op, s.at)
				case "release":
					err = l.ReleaseCredential(ctx, s.account, s.op)
				default:
					t.Fatalf("step %d: unknown action %q", i, s.action)
				}
				if s.want == nil && err != nil {
					t.Fatalf("step %d %s %s/%s: %v", i, s.action, s.account, s.op, err)
				}
				if s.want != nil && !errors.Is(err, s.want) {
					t.Fatalf("step %d %s %s/%s: expected %v, got %v", i, s.action, s.account, s.op, s.want, err)
				}
			}
		})
	}
}

func TestRolloverResetsStoredUsage(t *testing.T) {
	l, mr := newTestLedger(t, queue.CredentialSpec{AccountID: "a", DailyLimit: 5})
	ctx := context.Background()
	day1 := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Hour)
	l.now = func() time.Time { return day1 }

	if _, err := l.ClaimCredential(ctx, "a", "op-1", day1); err != nil {
		t.Fatalf("ClaimCredential: %v", err)
	}
	for range 3 {
		if _, err := l.RecordCredentialCall(ctx, "a", "op-1", day1); err != nil {
			t.Fatalf("RecordCredentialCall: %v", err)
		}
	}
	if err := l.ReleaseCredential(ctx, "a", "op-1"); err != nil {
		t.Fatalf("ReleaseCredential: %v", err)
	}
	if got := mr.HGet("test:cred:a", "usage"); got != "3" {
		t.Fatalf("usage on day 1 = %q", got)
	}

	l.now = func() time.Time { return day2 }
	cred, err := l.ClaimCredential(ctx, "a", "op-2", day2)
	if err != nil {
		t.Fatalf("ClaimCredential next day: %v", err)
	}
	if cred.DailyUsageCount != 0 || cred.UsageDate != "2026-03-10" || cred.TotalCalls != 3 {
		t.Fatalf("unexpected credential after rollover %#v", cred)
	}
	if got := mr.HGet("test:cred:a", "usage"); got != "0" {
		t.Fatalf("stored usage after rollover = %q", got)
	}

	cred, err = l.RecordCredentialCall(ctx, "a", "op-2", day2)
	if err != nil {
		t.Fatalf("RecordCredentialCall next day: %v", err)
	}
	if cred.DailyUsageCount != 1 || cred.TotalCalls != 4 || cred.LastCallAt == nil || !cred.LastCallAt.Equal(day2) {
		t.Fatalf("unexpected credential after call %#v", cred)
	}
}

func TestForceReleaseRespectsCutoff(t *testing.T) {
	l, mr := newTestLedger(t,
		queue.CredentialSpec{AccountID: "a", DailyLimit: 10},
		queue.CredentialSpec{AccountID: "b", DailyLimit: 10},
		queue.CredentialSpec{AccountID: "c", DailyLimit: 10},
	)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return t0 }

	if _, err := l.ClaimCredential(ctx, "a", "op-old", t0); err != nil {
		t.Fatalf("claim a: %v", err)
	}
	if _, err := l.ClaimCredential(ctx, "b", "op-new", t0.Add(10*time.Minute)); err != nil {
		t.Fatalf("claim b: %v", err)
	}

	released, err := l.ForceReleaseCredentials(ctx, t0.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("ForceReleaseCredentials: %v", err)
	}
	if !slices.Equal(released, []string{"a"}) {
		t.Fatalf("expected only a released, got %v", released)
	}
	if mr.HGet("test:cred:a", "op_id") != "" {
		t.Fatal("claim on a not cleared")
	}
	if mr.HGet("test:cred:b", "op_id") != "op-new" {
		t.Fatal("claim on b started after the cutoff and must survive")
	}

	// A claim started exactly at the cutoff is kept.
	released, err = l.ForceReleaseCredentials(ctx, t0.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("ForceReleaseCredentials at claim time: %v", err)
	}
	if len(released) != 0 {
		t.Fatalf("expected nothing released at the cutoff, got %v", released)
	}

	if err := l.ReleaseCredential(ctx, "a", "op-old"); !errors.Is(err, queue.ErrOperationMismatch) {
		t.Fatalf("late release of a swept claim: expected mismatch, got %v", err)
	}
	if _, err := l.ClaimCredential(ctx, "a", "op-next", t0.Add(20*time.Minute)); err != nil {
		t.Fatalf("a should be claimable after force release: %v", err)
	}

	creds, err := l.ListCredentials(ctx)
	if err != nil {
		t.Fatalf("ListCredentials: %v", err)
	}
	busy := map[string]bool{}
	for _, c := range creds {
		busy[c.AccountID] = c.Busy()
	}
	if !busy["a"] || !busy["b"] || busy["c"] {
		t.Fatalf("unexpected busy set %v", busy)
	}
}
