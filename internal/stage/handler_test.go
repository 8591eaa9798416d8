package stage_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
	"leadpipe/internal/services"
	"leadpipe/internal/stage"
	"leadpipe/internal/testsupport"
)

type completerFunc func(ctx context.Context, system, user string) (string, error)

func (f completerFunc) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

func reply(content string) completerFunc {
	return func(context.Context, string, string) (string, error) { return content, nil }
}

func failWith(err error) completerFunc {
	return func(context.Context, string, string) (string, error) { return "", err }
}

func newRecord(subject, text string) *queue.Record {
	return &queue.Record{
		ID:         7,
		NaturalKey: "p-" + subject,
		SubjectKey: subject,
		Payload:    testsupport.Post(subject, text),
		Status:     queue.StatusProcessing,
		Stage:      queue.StageIntent,
		Priority:   100,
	}
}

type panicHandler struct{ *stage.IntentClassifier }

func (panicHandler) Run(context.Context, *queue.Record) (queue.StageResult, error) {
	panic("boom")
}

func TestRunClassifiesOutcomes(t *testing.T) {
	ctx := context.Background()
	rec := newRecord("jane", "We are hiring a Backend Engineer")

	tests := []struct {
		name      string
		completer completerFunc
		want      stage.OutcomeKind
	}{
		{"success", reply(`{"hiring_intent": true, "confidence": 0.9}`), stage.OutcomeSucceeded},
		{"rate limited", failWith(&services.ExternalError{Service: "llm", Marker: services.ErrRateLimited}), stage.OutcomeTransient},
		{"timeout", failWith(services.Wrap(services.ErrTimeout, "llm", "complete", "", nil)), stage.OutcomeTransient},
		{"auth", failWith(&services.ExternalError{Service: "llm", Marker: services.ErrAuth, StatusCode: 401}), stage.OutcomePermanent},
		{"unclassified", failWith(errors.New("mystery")), stage.OutcomePermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := stage.NewIntentClassifier(tt.completer, logging.NewNop())
			out := stage.Run(ctx, h, rec)
			if out.Kind != tt.want {
				t.Fatalf("kind = %s, want %s (err %v)", out.Kind, tt.want, out.Err)
			}
			if out.Stage != queue.StageIntent {
				t.Fatalf("stage = %s", out.Stage)
			}
			if tt.want == stage.OutcomeSucceeded && out.Result == nil {
				t.Fatal("expected result")
			}
		})
	}
}

func TestRunSkipsUnmetPrecondition(t *testing.T) {
	called := false
	h := stage.NewQualifier(func(context.Context, string, string) (string, error) {
		called = true
		return `{}`, nil
	}, testsupport.NewConfig(t).Classification, logging.NewNop())

	rec := newRecord("jane", "We are hiring")
	rec.Results.Intent = &queue.IntentResult{Verdict: queue.VerdictNegative}
	out := stage.Run(context.Background(), h, rec)
	if out.Kind != stage.OutcomeSkipped {
		t.Fatalf("kind = %s, want skipped", out.Kind)
	}
	if !errors.Is(out.Err, stage.ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", out.Err)
	}
	if called {
		t.Fatal("classifier should not run when precondition fails")
	}
}

func TestRunRecoversPanics(t *testing.T) {
	h := panicHandler{stage.NewIntentClassifier(reply(`{}`), logging.NewNop())}
	out := stage.Run(context.Background(), h, newRecord("jane", "We are hiring"))
	if out.Kind != stage.OutcomePermanent {
		t.Fatalf("kind = %s, want permanent", out.Kind)
	}
	if out.Err == nil || !strings.Contains(out.Err.Error(), "boom") {
		t.Fatalf("err = %v", out.Err)
	}
}

func TestRunReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := stage.NewIntentClassifier(func(ctx context.Context, _, _ string) (string, error) {
		cancel()
		return "", ctx.Err()
	}, logging.NewNop())
	out := stage.Run(ctx, h, newRecord("jane", "We are hiring"))
	if out.Kind != stage.OutcomeCancelled {
		t.Fatalf("kind = %s, want cancelled", out.Kind)
	}
}
