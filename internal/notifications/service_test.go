package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"leadpipe/internal/config"
	"leadpipe/internal/notifications"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		captured = append(captured, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(status)
		_, _ = w.Write([]byte("topic rejected"))
	}))
	t.Cleanup(server.Close)
	return server, &captured
}

func enabled(topic string) config.Notifications {
	return config.Notifications{NtfyTopic: topic, RequestTimeoutSeconds: 5, Leads: true, Failures: true, Drains: true}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(config.Notifications{Leads: true})
	if err := svc.NotifyLeadCreated(context.Background(), "Jane", "engineering", ""); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("expected noop test notification to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "lead created",
			send: func(s notifications.Service) error {
				return s.NotifyLeadCreated(context.Background(), "Jane Doe", "engineering", "https://profiles.example/jane")
			},
			expectTitle:    "leadpipe - New Lead",
			expectMessage:  "New lead: Jane Doe (engineering)\nhttps://profiles.example/jane",
			expectTags:     "leadpipe,lead,created",
			expectPriority: "high",
		},
		{
			name: "lead without details",
			send: func(s notifications.Service) error {
				return s.NotifyLeadCreated(context.Background(), " ", "", "")
			},
			expectTitle:    "leadpipe - New Lead",
			expectMessage:  "New lead: unnamed lead",
			expectTags:     "leadpipe,lead,created",
			expectPriority: "high",
		},
		{
			name: "record failed",
			send: func(s notifications.Service) error {
				return s.NotifyRecordFailed(context.Background(), 42, "enrich", "profile api returned 404")
			},
			expectTitle:   "leadpipe - Record Failed",
			expectMessage: "Record 42 failed at enrich: profile api returned 404",
			expectTags:    "leadpipe,error,record",
		},
		{
			name: "drain with failures",
			send: func(s notifications.Service) error {
				return s.NotifyDrainCompleted(context.Background(), "b1", 10, 3, 90*time.Second+400*time.Millisecond)
			},
			expectTitle:   "leadpipe - Drain Complete (with errors)",
			expectMessage: "Drained batch b1: 10 stage runs, 3 failed in 1m30s",
			expectTags:    "leadpipe,drain,completed",
		},
		{
			name: "clean drain",
			send: func(s notifications.Service) error {
				return s.NotifyDrainCompleted(context.Background(), "", 4, 0, 0)
			},
			expectTitle:   "leadpipe - Drain Complete",
			expectMessage: "Drained all batches: 4 stage runs in 0s",
			expectTags:    "leadpipe,drain,completed",
		},
		{
			name:           "test",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "leadpipe - Test",
			expectMessage:  "Notification system test",
			expectTags:     "leadpipe,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, captured := newNtfyServer(t, http.StatusOK)
			if err := tc.send(notifications.NewService(enabled(server.URL))); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if len(*captured) != 1 {
				t.Fatalf("expected 1 request, got %d", len(*captured))
			}
			got := (*captured)[0]
			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			if got.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got.body)
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsDisabledFamilies(t *testing.T) {
	server, captured := newNtfyServer(t, http.StatusOK)
	cfg := config.Notifications{NtfyTopic: server.URL, RequestTimeoutSeconds: 5}
	svc := notifications.NewService(cfg)

	ctx := context.Background()
	if err := svc.NotifyLeadCreated(ctx, "Jane", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := svc.NotifyRecordFailed(ctx, 1, "intent", "boom"); err != nil {
		t.Fatal(err)
	}
	if err := svc.NotifyDrainCompleted(ctx, "", 1, 0, time.Second); err != nil {
		t.Fatal(err)
	}
	if len(*captured) != 0 {
		t.Fatalf("expected no requests for disabled families, got %d", len(*captured))
	}
	if err := svc.TestNotification(ctx); err != nil {
		t.Fatal(err)
	}
	if len(*captured) != 1 {
		t.Fatalf("test notification should always send, got %d requests", len(*captured))
	}
}

func TestNtfyServiceReportsRejectedTopic(t *testing.T) {
	server, _ := newNtfyServer(t, http.StatusForbidden)
	err := notifications.NewService(enabled(server.URL)).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ntfy returned 403: topic rejected") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}
