package testsupport

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"leadpipe/internal/config"
	"leadpipe/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup. The
// configured enrichment accounts are synced into the credential table.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	specs := make([]queue.CredentialSpec, 0, len(cfg.Enrichment.Accounts))
	for _, acct := range cfg.Enrichment.Accounts {
		specs = append(specs, queue.CredentialSpec{AccountID: acct.ID, DailyLimit: acct.DailyLimit})
	}
	if err := store.SyncCredentials(context.Background(), specs); err != nil {
		t.Fatalf("SyncCredentials: %v", err)
	}
	return store
}

var postSeq atomic.Int64

// Post builds a payload for subject with a hiring-style text.
func Post(subject, text string) queue.Payload {
	posted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return queue.Payload{
		Text:             text,
		AuthorName:       "Author " + subject,
		AuthorProfileID:  subject,
		AuthorProfileURL: "https://social.example/in/" + subject,
		PostURL:          fmt.Sprintf("https://social.example/posts/%d", postSeq.Add(1)),
		PostedAt:         &posted,
	}
}

// InsertRecord stores a queued record and fails the test on error.
func InsertRecord(t testing.TB, store *queue.Store, naturalKey string, payload queue.Payload) *queue.Record {
	t.Helper()

	rec, _, err := store.InsertRecord(context.Background(), queue.NewRecord{
		NaturalKey: naturalKey,
		BatchID:    "batch-test",
		Payload:    payload,
		Priority:   100,
	})
	if err != nil {
		t.Fatalf("store.InsertRecord: %v", err)
	}
	return rec
}

// MustGet reloads a record and fails the test if it is missing.
func MustGet(t testing.TB, store *queue.Store, id int64) *queue.Record {
	t.Helper()

	rec, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("store.GetByID: %v", err)
	}
	if rec == nil {
		t.Fatalf("record %d not found", id)
	}
	return rec
}
