package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type MessagePurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob purges message-log rows older than the retention window.
type CleanupJob struct {
	messages  MessagePurger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
	stopped   chan struct{}
}

func NewCleanupJob(messages MessagePurger, retention, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		messages:  messages,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Msg("cleanup job started")
}

// Stop signals the job and waits for an in-progress run to finish.
func (j *CleanupJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	defer close(j.stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	j.runCleanup(ctx, "messages", func(ctx context.Context) (int64, error) {
		return j.messages.DeleteOlderThan(ctx, cutoff)
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
