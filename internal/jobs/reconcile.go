package jobs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type PairingStatusResetter interface {
	ResetPairingStatuses(ctx context.Context) (int64, error)
}

// ReconcileOnStartup marks records left mid-pairing by a previous process as
// disconnected. No adapter in this process backs them. Connected records are
// left alone; the status fix endpoint reconciles those on demand.
func ReconcileOnStartup(ctx context.Context, sessions PairingStatusResetter) error {
	n, err := sessions.ResetPairingStatuses(ctx)
	if err != nil {
		return fmt.Errorf("reset pairing statuses: %w", err)
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("reset stale pairing sessions")
	}
	return nil
}
