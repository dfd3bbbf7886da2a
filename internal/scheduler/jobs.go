package scheduler

import (
	"context"
	"errors"
	"fmt"

	"frizo/margin_ledger/internal/engine"
	"frizo/margin_ledger/internal/logger"
	"frizo/margin_ledger/internal/store"
)

// SettleFundingJob settles funding on every market whose period has elapsed.
// Markets that are not due yet are skipped silently.
func SettleFundingJob(ledger *engine.Ledger, log *logger.Logger) Job {
	return func(ctx context.Context) error {
		var errs []error
		for _, eng := range ledger.Markets() {
			sum, err := eng.SettleFunding(ctx)
			switch {
			case errors.Is(err, engine.ErrFundingNotDue):
				continue
			case err != nil:
				errs = append(errs, fmt.Errorf("%s: %w", eng.ID(), err))
				continue
			}
			log.Info("scheduled funding settled", "market", eng.ID(), "positions", sum.Positions)
		}
		return errors.Join(errs...)
	}
}

// SnapshotJob persists every market. One failing market does not stop the others.
func SnapshotJob(ledger *engine.Ledger, st store.Store) Job {
	return func(ctx context.Context) error {
		var errs []error
		for _, snap := range ledger.Snapshots() {
			if err := st.Save(ctx, snap); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", snap.ID, err))
			}
		}
		return errors.Join(errs...)
	}
}
