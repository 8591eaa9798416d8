package callexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadpipe/internal/config"
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
	"leadpipe/internal/services"
)

const serviceName = "callexec"

// Ledger books credential claims and quota. queue.Store and
// redisledger.Ledger implement it.
type Ledger interface {
	ClaimCredential(ctx context.Context, accountID, opID string, now time.Time) (queue.Credential, error)
	RecordCredentialCall(ctx context.Context, accountID, opID string, now time.Time) (queue.Credential, error)
	ReleaseCredential(ctx context.Context, accountID, opID string) error
	ListCredentials(ctx context.Context) ([]queue.Credential, error)
}

// Call identifies one logical external operation.
type Call struct {
	AccountID string
	// Kind labels the call in logs, e.g. "profile_lookup".
	Kind     string
	Priority bool
}

// Policy controls spacing, retries, and claim waiting.
type Policy struct {
	MinSpacing  time.Duration
	MaxSpacing  time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	ClaimWait   time.Duration
}

// PolicyFromConfig builds a Policy from the executor section.
func PolicyFromConfig(cfg *config.Config) Policy {
	e := cfg.Executor
	return Policy{
		MinSpacing:  time.Duration(e.MinSpacingMillis) * time.Millisecond,
		MaxSpacing:  time.Duration(e.MaxSpacingMillis) * time.Millisecond,
		MaxAttempts: e.MaxAttempts,
		BackoffBase: time.Duration(e.BackoffBaseMillis) * time.Millisecond,
		BackoffMax:  time.Duration(e.BackoffMaxMillis) * time.Millisecond,
		ClaimWait:   time.Duration(e.ClaimWaitSeconds) * time.Second,
	}
}

// Executor runs external calls under per-account serialization, spacing, and
// retry policy.
type Executor struct {
	ledger Ledger
	policy Policy
	logger *slog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	active map[string]int

	// pickMu keeps account selection and its reservation atomic.
	pickMu sync.Mutex

	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	spacing func(min, max time.Duration) time.Duration
	opID    func() string
}

// Option customizes an Executor.
type Option func(*Executor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSleeper overrides how the executor waits between attempts.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithSpacingFunc overrides the spacing draw.
func WithSpacingFunc(fn func(min, max time.Duration) time.Duration) Option {
	return func(e *Executor) {
		if fn != nil {
			e.spacing = fn
		}
	}
}

// New constructs an Executor.
func New(ledger Ledger, policy Policy, logger *slog.Logger, opts ...Option) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.MaxSpacing < policy.MinSpacing {
		policy.MaxSpacing = policy.MinSpacing
	}
	e := &Executor{
		ledger:  ledger,
		policy:  policy,
		logger:  logging.NewComponentLogger(logger, "callexec"),
		lanes:   make(map[string]*lane),
		active:  make(map[string]int),
		now:     time.Now,
		sleep:   sleepContext,
		spacing: jitteredSpacing,
		opID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the active policy.
func (e *Executor) Policy() Policy { return e.policy }

// Execute runs op for call.AccountID. op is invoked once per attempt with the
// caller's context; its error classifies the attempt.
func (e *Executor) Execute(ctx context.Context, call Call, op func(context.Context) error) error {
	call.AccountID = strings.TrimSpace(call.AccountID)
	e.track(call.AccountID, 1)
	defer e.track(call.AccountID, -1)
	return e.execute(ctx, call, op)
}

// ExecuteAny picks an account with PickAccount, weighing the calls this
// executor already has in flight per account, and runs op on it like Execute.
// Concurrent callers therefore spread over idle accounts instead of queueing
// behind the same one. It returns the chosen account, which is empty when no
// account could be picked.
func (e *Executor) ExecuteAny(ctx context.Context, call Call, op func(ctx context.Context, accountID string) error) (string, error) {
	e.pickMu.Lock()
	accountID, err := PickAccount(ctx, e.ledger, e.Load)
	if err == nil {
		e.track(accountID, 1)
	}
	e.pickMu.Unlock()
	if err != nil {
		return "", err
	}
	defer e.track(accountID, -1)

	call.AccountID = accountID
	return accountID, e.execute(ctx, call, func(ctx context.Context) error {
		return op(ctx, accountID)
	})
}

// Load reports how many calls for accountID are running or queued in this
// executor.
func (e *Executor) Load(accountID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[accountID]
}

func (e *Executor) track(accountID string, delta int) {
	if accountID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := e.active[accountID] + delta; n > 0 {
		e.active[accountID] = n
	} else {
		delete(e.active, accountID)
	}
}

func (e *Executor) execute(ctx context.Context, call Call, op func(context.Context) error) error {
	accountID := call.AccountID
	if accountID == "" {
		return services.Wrap(services.ErrConfiguration, "", serviceName, "account id required", nil)
	}
	if op == nil {
		return errors.New("callexec: nil operation")
	}
	logger := logging.WithContext(ctx, e.logger).With(
		logging.String(logging.FieldAccountID, accountID),
		logging.String("call_kind", call.Kind),
	)

	l := e.lane(accountID)
	if err := l.acquire(ctx, call.Priority); err != nil {
		return err
	}
	defer l.release()

	opID := e.opID()
	cred, err := e.claim(ctx, accountID, opID)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.ledger.ReleaseCredential(context.WithoutCancel(ctx), accountID, opID); err != nil {
			logging.WarnWithContext(logger, "credential release failed", "credential_release_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the credential sweep will force-release it after the timeout"),
				logging.String(logging.FieldImpact, "account unavailable until released"),
			)
		}
	}()

	last := l.lastCall
	if cred.LastCallAt != nil && cred.LastCallAt.After(last) {
		last = *cred.LastCallAt
	}

	for attempt := 1; ; attempt++ {
		if err := e.waitSpacing(ctx, last); err != nil {
			return err
		}
		if _, err := e.ledger.RecordCredentialCall(ctx, accountID, opID, e.now()); err != nil {
			return e.ledgerError(accountID, err)
		}

		err := op(ctx)
		last = e.now()
		l.lastCall = last
		if err == nil {
			if attempt > 1 {
				logger.Info("external call succeeded after retry", logging.Int("attempt", attempt))
			}
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !services.IsTransient(err) {
			logger.Debug("external call failed permanently",
				logging.Int("attempt", attempt),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.Error(err),
			)
			return err
		}
		if attempt >= e.policy.MaxAttempts {
			logging.WarnWithContext(logger, "external call retries exhausted", "call_retries_exhausted",
				logging.Int("attempts", attempt),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "record will be rescheduled by the workflow"),
			)
			return err
		}
		delay := e.backoff(attempt, err)
		logger.Info("external call failed; retrying",
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (e *Executor) lane(accountID string) *lane {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.lanes[accountID]
	if !ok {
		l = &lane{}
		e.lanes[accountID] = l
	}
	return l
}

// Waiting reports how many callers are queued behind the active call for an account.
func (e *Executor) Waiting(accountID string) int {
	e.mu.Lock()
	l, ok := e.lanes[accountID]
	e.mu.Unlock()
	if !ok {
		return 0
	}
	return l.waiting()
}

// claim takes the credential, polling while another process holds it.
func (e *Executor) claim(ctx context.Context, accountID, opID string) (queue.Credential, error) {
	deadline := e.now().Add(e.policy.ClaimWait)
	for {
		cred, err := e.ledger.ClaimCredential(ctx, accountID, opID, e.now())
		if err == nil {
			return cred, nil
		}
		if !errors.Is(err, queue.ErrCredentialBusy) {
			return queue.Credential{}, e.ledgerError(accountID, err)
		}
		remaining := deadline.Sub(e.now())
		if remaining <= 0 {
			return queue.Credential{}, &services.ExternalError{
				Service: serviceName,
				Marker:  services.ErrTransient,
				Body:    fmt.Sprintf("credential %s busy for %s", accountID, e.policy.ClaimWait),
				Err:     err,
			}
		}
		if err := e.sleep(ctx, min(remaining, 250*time.Millisecond)); err != nil {
			return queue.Credential{}, err
		}
	}
}

func (e *Executor) ledgerError(accountID string, err error) error {
	switch {
	case errors.Is(err, queue.ErrQuotaExhausted):
		return &services.ExternalError{Service: serviceName, Marker: services.ErrRateLimited, Body: "daily quota exhausted for " + accountID, Err: err}
	case errors.Is(err, queue.ErrUnknownCredential):
		return services.Wrap(services.ErrConfiguration, "", serviceName, "unknown account "+accountID, err)
	default:
		return fmt.Errorf("credential ledger: %w", err)
	}
}

func (e *Executor) waitSpacing(ctx context.Context, last time.Time) error {
	if last.IsZero() || e.policy.MaxSpacing <= 0 {
		return ctx.Err()
	}
	gap := e.spacing(e.policy.MinSpacing, e.policy.MaxSpacing)
	wait := last.Add(gap).Sub(e.now())
	if wait <= 0 {
		return ctx.Err()
	}
	return e.sleep(ctx, wait)
}

// backoff returns the delay before the next attempt: base doubled per attempt,
// jittered, capped at BackoffMax, and never shorter than a capped Retry-After.
func (e *Executor) backoff(attempt int, err error) time.Duration {
	p := e.policy
	delay := p.BackoffBase
	for i := 1; i < attempt && delay < p.BackoffMax; i++ {
		delay *= 2
	}
	delay = time.Duration(float64(delay) * (0.8 + rand.Float64()*0.4))
	if hint, ok := services.RetryAfter(err); ok && hint > delay {
		delay = hint
	}
	return min(delay, p.BackoffMax)
}

func jitteredSpacing(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
