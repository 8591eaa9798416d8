package workflow_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"leadpipe/internal/services"
	"leadpipe/internal/testsupport"
)

type recordingNotifier struct {
	mu       sync.Mutex
	leads    []string
	failures []string
}

func (n *recordingNotifier) NotifyLeadCreated(_ context.Context, name, category, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leads = append(n.leads, name+"/"+category)
	return nil
}

func (n *recordingNotifier) NotifyRecordFailed(_ context.Context, recordID int64, stage, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, fmt.Sprintf("%d@%s", recordID, stage))
	return nil
}

func (n *recordingNotifier) NotifyDrainCompleted(context.Context, string, int, int, time.Duration) error {
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func TestNewLeadNotifiesOnce(t *testing.T) {
	p := newPipeline(t, testsupport.NewConfig(t), nil)
	notifier := &recordingNotifier{}
	p.orchestrator.SetNotifier(notifier)
	testsupport.InsertRecord(t, p.store, "p1", testsupport.Post("jane-doe", "We are hiring a Backend Engineer"))
	testsupport.InsertRecord(t, p.store, "p2", testsupport.Post("jane-doe", "Still hiring a Backend Engineer"))

	p.drain(t)

	if len(notifier.leads) != 1 || notifier.leads[0] != "Jane Doe/Tech" {
		t.Fatalf("lead notifications = %v, want one for Jane Doe/Tech", notifier.leads)
	}
	if len(notifier.failures) != 0 {
		t.Fatalf("unexpected failure notifications: %v", notifier.failures)
	}
}

func TestPermanentFailureNotifies(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(0))
	cfg.Executor.MaxAttempts = 1
	p := newPipeline(t, cfg, nil)
	notifier := &recordingNotifier{}
	p.orchestrator.SetNotifier(notifier)
	p.profiles.errs = []error{&services.ExternalError{Service: "profiles", Marker: services.ErrProviderUnavailable, StatusCode: 503}}
	rec := testsupport.InsertRecord(t, p.store, "p1", testsupport.Post("jane-doe", "We are hiring"))

	p.drain(t)

	want := fmt.Sprintf("%d@enrich", rec.ID)
	if len(notifier.failures) != 1 || notifier.failures[0] != want {
		t.Fatalf("failure notifications = %v, want [%s]", notifier.failures, want)
	}
	if len(notifier.leads) != 0 {
		t.Fatalf("unexpected lead notifications: %v", notifier.leads)
	}
}
