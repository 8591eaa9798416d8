package callexec

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"leadpipe/internal/queue"
	"leadpipe/internal/services"
)

// PickAccount returns the credential with quota left that is free of holders,
// then least loaded, then least used. Ties go to the credential called least
// recently. load reports in-process calls per account and may be nil.
func PickAccount(ctx context.Context, ledger Ledger, load func(accountID string) int) (string, error) {
	creds, err := ledger.ListCredentials(ctx)
	if err != nil {
		return "", fmt.Errorf("list credentials: %w", err)
	}
	if len(creds) == 0 {
		return "", services.Wrap(services.ErrConfiguration, "", serviceName, "no enrichment accounts configured", nil)
	}
	available := slices.DeleteFunc(slices.Clone(creds), func(c queue.Credential) bool {
		return c.DailyLimit > 0 && c.DailyUsageCount >= c.DailyLimit
	})
	if len(available) == 0 {
		return "", &services.ExternalError{Service: serviceName, Marker: services.ErrRateLimited, Body: "all accounts exhausted their daily quota"}
	}
	slices.SortStableFunc(available, func(a, b queue.Credential) int {
		if a.Busy() != b.Busy() {
			if a.Busy() {
				return 1
			}
			return -1
		}
		if load != nil {
			if c := cmp.Compare(load(a.AccountID), load(b.AccountID)); c != 0 {
				return c
			}
		}
		if c := cmp.Compare(a.DailyUsageCount, b.DailyUsageCount); c != 0 {
			return c
		}
		return lastCall(a).Compare(lastCall(b))
	})
	return available[0].AccountID, nil
}

func lastCall(c queue.Credential) time.Time {
	if c.LastCallAt == nil {
		return time.Time{}
	}
	return *c.LastCallAt
}
