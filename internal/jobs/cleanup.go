package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const cleanupTimeout = 30 * time.Second

// HandshakeCleaner is satisfied by repository.AuthRequestRepository.
type HandshakeCleaner interface {
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

// SessionCleaner is satisfied by repository.AuthSessionRepository.
type SessionCleaner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob periodically deletes dead handshakes and sessions. Handshakes
// are kept for retention after they expire or complete.
type CleanupJob struct {
	handshakes HandshakeCleaner
	sessions   SessionCleaner
	interval   time.Duration
	retention  time.Duration
	now        func() time.Time
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewCleanupJob(
	handshakes HandshakeCleaner,
	sessions SessionCleaner,
	interval time.Duration,
	retention time.Duration,
) *CleanupJob {
	return &CleanupJob{
		handshakes: handshakes,
		sessions:   sessions,
		interval:   interval,
		retention:  retention,
		now:        time.Now,
		done:       make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

// Stop waits for an in-flight cleanup to finish.
func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("cleanup job stopped")
	})
}

func (j *CleanupJob) run() {
	defer j.wg.Done()
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
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	j.runCleanup(ctx, "auth requests", func(ctx context.Context) (int64, error) {
		return j.handshakes.DeleteExpired(ctx, cutoff)
	})
	j.runCleanup(ctx, "auth sessions", j.sessions.DeleteExpired)
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
