package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"medportal/internal/security"
)

// StreamTrimmer is satisfied by *events.StreamPublisher.
type StreamTrimmer interface {
	Trim(ctx context.Context) (int64, error)
}

type Scheduler struct {
	cron    *cron.Cron
	keys    *security.Keyring
	trimmer StreamTrimmer
	log     zerolog.Logger
}

// NewScheduler runs maintenance for the signing keyring and, when trimmer is
// non-nil, the auth event stream.
func NewScheduler(keys *security.Keyring, trimmer StreamTrimmer, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:    c,
		keys:    keys,
		trimmer: trimmer,
		log:     log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 * * * * *", s.pruneKeys); err != nil {
		return err
	}
	if s.trimmer != nil {
		if _, err := s.cron.AddFunc("0 30 3 * * *", s.trimEvents); err != nil { // daily, off-peak
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop waits up to five seconds for running jobs to finish.
func (s *Scheduler) Stop() {
	select {
	case <-s.cron.Stop().Done():
	case <-time.After(5 * time.Second):
	}
}

func (s *Scheduler) pruneKeys() {
	if s.keys.Prune() {
		s.log.Info().Msg("previous signing key retired")
	}
}

func (s *Scheduler) trimEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := s.trimmer.Trim(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("trim auth events failed")
		return
	}
	s.log.Info().Int64("removed", removed).Msg("auth events trimmed")
}
