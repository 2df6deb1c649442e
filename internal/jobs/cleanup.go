package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aquaminds/meter-relay-go/internal/repository"
)

// CleanupJob sweeps expired and redeemed pairing secrets so the
// password space stays sparse.
type CleanupJob struct {
	pairingRepo repository.PairingSecretRepository
	interval    time.Duration
	done        chan struct{}
}

func NewCleanupJob(pairingRepo repository.PairingSecretRepository, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		pairingRepo: pairingRepo,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
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

	count, err := j.pairingRepo.DeleteExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to cleanup pairing secrets")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("cleaned up pairing secrets")
	}
}
