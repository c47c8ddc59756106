package identity

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Detect compares every linked employee's HR name with its account name. One
// lookup is issued per linked employee, at most opts.Concurrency at a time.
// Failed lookups are logged and left out of the result, so partial results are
// normal. The result is sorted by employee id.
func Detect(ctx context.Context, employees []Employee, lookup AccountLookup, opts DetectOptions, logger *slog.Logger) []NameInconsistency {
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}

	var (
		mu  sync.Mutex
		out []NameInconsistency
	)
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, emp := range employees {
		if emp.UserID == 0 {
			continue
		}
		g.Go(func() error {
			account, err := lookupOne(ctx, lookup, emp.UserID, opts)
			if err != nil {
				logger.Warn("identity lookup failed",
					slog.Int64("employee_id", emp.ID),
					slog.Int64("user_id", emp.UserID),
					slog.Any("error", err),
				)
				return nil
			}
			if SameName(emp.Name, account.Name) {
				return nil
			}
			mu.Lock()
			out = append(out, NameInconsistency{
				EmployeeID:  emp.ID,
				UserID:      emp.UserID,
				HRName:      emp.Name,
				AccountName: account.Name,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out
}

func lookupOne(ctx context.Context, lookup AccountLookup, userID int64, opts DetectOptions) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	return lookup.Account(ctx, userID)
}
