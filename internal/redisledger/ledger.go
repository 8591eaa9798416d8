// Package redisledger keeps enrichment credential bookkeeping in Redis so
// several leadpipe processes can share quota and claims.
package redisledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"leadpipe/internal/config"
	"leadpipe/internal/queue"
)

// Each credential is a hash under <prefix>:cred:<account>; the account set
// lives under <prefix>:creds.

var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'unknown' end
local op = redis.call('HGET', KEYS[1], 'op_id')
if op and op ~= '' and op ~= ARGV[1] then return 'busy' end
if redis.call('HGET', KEYS[1], 'usage_date') ~= ARGV[2] then
  redis.call('HSET', KEYS[1], 'usage_date', ARGV[2], 'usage', 0)
end
local usage = tonumber(redis.call('HGET', KEYS[1], 'usage') or '0')
local limit = tonumber(redis.call('HGET', KEYS[1], 'daily_limit') or '0')
if limit > 0 and usage >= limit then return 'quota' end
redis.call('HSET', KEYS[1], 'op_id', ARGV[1], 'op_started', ARGV[3])
return 'ok'
`)

var recordScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'unknown' end
if redis.call('HGET', KEYS[1], 'op_id') ~= ARGV[1] then return 'mismatch' end
if redis.call('HGET', KEYS[1], 'usage_date') ~= ARGV[2] then
  redis.call('HSET', KEYS[1], 'usage_date', ARGV[2], 'usage', 0)
end
local usage = tonumber(redis.call('HGET', KEYS[1], 'usage') or '0')
local limit = tonumber(redis.call('HGET', KEYS[1], 'daily_limit') or '0')
if limit > 0 and usage >= limit then return 'quota' end
redis.call('HINCRBY', KEYS[1], 'usage', 1)
redis.call('HINCRBY', KEYS[1], 'total_calls', 1)
redis.call('HSET', KEYS[1], 'last_call_at', ARGV[3])
return 'ok'
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'op_id') ~= ARGV[1] then return 'mismatch' end
redis.call('HDEL', KEYS[1], 'op_id', 'op_started')
return 'ok'
`)

// forceReleaseScript clears a claim only if it still started before the cutoff.
var forceReleaseScript = redis.NewScript(`
local started = redis.call('HGET', KEYS[1], 'op_started')
if not started or started == '' or started >= ARGV[1] then return 'skip' end
redis.call('HDEL', KEYS[1], 'op_id', 'op_started')
return 'ok'
`)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Ledger implements callexec.Ledger on Redis.
type Ledger struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// New connects to Redis using the ledger config section and verifies the
// connection with a ping.
func New(ctx context.Context, cfg config.Ledger) (*Ledger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	return NewWithClient(client, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Ledger {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "leadpipe"
	}
	return &Ledger{client: client, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

// Close releases the Redis connection pool.
func (l *Ledger) Close() error {
	return l.client.Close()
}

func (l *Ledger) key(accountID string) string {
	return l.prefix + ":cred:" + accountID
}

func (l *Ledger) setKey() string {
	return l.prefix + ":creds"
}

// SyncCredentials creates missing credential hashes and refreshes daily limits.
func (l *Ledger) SyncCredentials(ctx context.Context, specs []queue.CredentialSpec) error {
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, spec := range specs {
			id := strings.TrimSpace(spec.AccountID)
			if id == "" {
				return errors.New("account id required")
			}
			pipe.SAdd(ctx, l.setKey(), id)
			pipe.HSet(ctx, l.key(id), "daily_limit", spec.DailyLimit)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync credentials: %w", err)
	}
	return nil
}

// ClaimCredential marks the credential as held by opID.
func (l *Ledger) ClaimCredential(ctx context.Context, accountID, opID string, now time.Time) (queue.Credential, error) {
	res, err := claimScript.Run(ctx, l.client, []string{l.key(accountID)},
		opID, queue.UsageDay(now), now.UTC().Format(timeLayout)).Text()
	if err != nil {
		return queue.Credential{}, fmt.Errorf("claim credential %s: %w", accountID, err)
	}
	if err := scriptResult(res, accountID); err != nil {
		return queue.Credential{}, fmt.Errorf("claim credential: %w", err)
	}
	return l.get(ctx, accountID)
}

// RecordCredentialCall consumes one unit of quota for opID and stamps last_call_at.
func (l *Ledger) RecordCredentialCall(ctx context.Context, accountID, opID string, now time.Time) (queue.Credential, error) {
	res, err := recordScript.Run(ctx, l.client, []string{l.key(accountID)},
		opID, queue.UsageDay(now), now.UTC().Format(timeLayout)).Text()
	if err != nil {
		return queue.Credential{}, fmt.Errorf("record credential call %s: %w", accountID, err)
	}
	if err := scriptResult(res, accountID); err != nil {
		return queue.Credential{}, fmt.Errorf("record credential call: %w", err)
	}
	return l.get(ctx, accountID)
}

// ReleaseCredential clears the claim held by opID.
func (l *Ledger) ReleaseCredential(ctx context.Context, accountID, opID string) error {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key(accountID)}, opID).Text()
	if err != nil {
		return fmt.Errorf("release credential %s: %w", accountID, err)
	}
	return scriptResult(res, accountID)
}

// ForceReleaseCredentials clears claims that started before cutoff.
func (l *Ledger) ForceReleaseCredentials(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := l.client.SMembers(ctx, l.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list credential ids: %w", err)
	}
	sort.Strings(ids)
	var released []string
	for _, id := range ids {
		res, err := forceReleaseScript.Run(ctx, l.client, []string{l.key(id)}, cutoff.UTC().Format(timeLayout)).Text()
		if err != nil {
			return released, fmt.Errorf("force release %s: %w", id, err)
		}
		if res == "ok" {
			released = append(released, id)
		}
	}
	return released, nil
}

// ListCredentials returns every credential ordered by account id.
func (l *Ledger) ListCredentials(ctx context.Context) ([]queue.Credential, error) {
	ids, err := l.client.SMembers(ctx, l.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list credential ids: %w", err)
	}
	sort.Strings(ids)
	out := make([]queue.Credential, 0, len(ids))
	for _, id := range ids {
		cred, err := l.get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}

func (l *Ledger) get(ctx context.Context, accountID string) (queue.Credential, error) {
	fields, err := l.client.HGetAll(ctx, l.key(accountID)).Result()
	if err != nil {
		return queue.Credential{}, fmt.Errorf("load credential %s: %w", accountID, err)
	}
	if len(fields) == 0 {
		return queue.Credential{}, fmt.Errorf("%w: %s", queue.ErrUnknownCredential, accountID)
	}
	return decodeCredential(accountID, fields, queue.UsageDay(l.now())), nil
}

func scriptResult(res, accountID string) error {
	switch res {
	case "ok":
		return nil
	case "unknown":
		return fmt.Errorf("%w: %s", queue.ErrUnknownCredential, accountID)
	case "busy":
		return fmt.Errorf("%w: %s", queue.ErrCredentialBusy, accountID)
	case "quota":
		return fmt.Errorf("%w: %s", queue.ErrQuotaExhausted, accountID)
	case "mismatch":
		return fmt.Errorf("%w: %s", queue.ErrOperationMismatch, accountID)
	default:
		return fmt.Errorf("unexpected ledger reply %q for %s", res, accountID)
	}
}

// decodeCredential converts a credential hash. Usage from a day other than
// today reads as zero.
func decodeCredential(accountID string, fields map[string]string, today string) queue.Credential {
	cred := queue.Credential{
		AccountID:          accountID,
		UsageDate:          fields["usage_date"],
		CurrentOperationID: fields["op_id"],
	}
	cred.DailyLimit, _ = strconv.Atoi(fields["daily_limit"])
	cred.DailyUsageCount, _ = strconv.Atoi(fields["usage"])
	cred.TotalCalls, _ = strconv.ParseInt(fields["total_calls"], 10, 64)
	if cred.UsageDate != today {
		cred.UsageDate = today
		cred.DailyUsageCount = 0
	}
	cred.LastCallAt = parseTime(fields["last_call_at"])
	cred.OperationStartedAt = parseTime(fields["op_started"])
	return cred
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return nil
	}
	return &t
}
