package redisledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadpipe/internal/config"
	"leadpipe/internal/queue"
)

func TestDecodeCredentialRollsOverUsage(t *testing.T) {
	fields := map[string]string{
		"daily_limit":  "150",
		"usage":        "42",
		"usage_date":   "2026-03-09",
		"total_calls":  "900",
		"last_call_at": "2026-03-09T23:59:00.000000000Z",
		"op_id":        "op-1",
		"op_started":   "2026-03-10T00:00:01.000000000Z",
	}
	cred := decodeCredential("acct-1", fields, "2026-03-10")
	if cred.DailyUsageCount != 0 || cred.UsageDate != "2026-03-10" {
		t.Fatalf("expected usage reset for a new day, got %#v", cred)
	}
	if cred.DailyLimit != 150 || cred.TotalCalls != 900 {
		t.Fatalf("unexpected counters %#v", cred)
	}
	if !cred.Busy() || cred.OperationStartedAt == nil {
		t.Fatalf("expected claim fields, got %#v", cred)
	}
	want := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	if cred.LastCallAt == nil || !cred.LastCallAt.Equal(want) {
		t.Fatalf("unexpected last call %v", cred.LastCallAt)
	}

	same := decodeCredential("acct-1", fields, "2026-03-09")
	if same.DailyUsageCount != 42 {
		t.Fatalf("expected same-day usage preserved, got %d", same.DailyUsageCount)
	}
}

func TestScriptResultMapsSentinels(t *testing.T) {
	cases := map[string]error{
		"unknown":  queue.ErrUnknownCredential,
		"busy":     queue.ErrCredentialBusy,
		"quota":    queue.ErrQuotaExhausted,
		"mismatch": queue.ErrOperationMismatch,
	}
	for reply, want := range cases {
		if err := scriptResult(reply, "acct"); !errors.Is(err, want) {
			t.Fatalf("%s: expected %v, got %v", reply, want, err)
		}
	}
	if err := scriptResult("ok", "acct"); err != nil {
		t.Fatalf("ok reply returned %v", err)
	}
}

func TestKeysUsePrefix(t *testing.T) {
	l := NewWithClient(nil, "  ")
	if got := l.key("a"); got != "leadpipe:cred:a" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := l.setKey(); got != "leadpipe:creds" {
		t.Fatalf("unexpected set key %q", got)
	}
}

func TestNewFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := New(ctx, config.Ledger{RedisAddr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected connection error")
	}
}
