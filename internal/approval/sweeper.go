package approval

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/pkg/logger"
)

// Sweeper runs Queue.ExpiredSweep on a fixed schedule.
type Sweeper struct {
	cron  *cron.Cron
	queue *Queue
	log   *logger.Logger
}

// NewSweeper builds a Sweeper that invokes ExpiredSweep according to spec,
// a standard 5-field cron expression (e.g. "*/1 * * * *" for once a
// minute).
func NewSweeper(queue *Queue, spec string, log *logger.Logger) (*Sweeper, error) {
	if log == nil {
		log = logger.NewDefault("approval_sweeper")
	}
	s := &Sweeper{cron: cron.New(), queue: queue, log: log}
	_, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) runOnce() {
	ctx := context.Background()
	if _, err := s.queue.ExpiredSweep(ctx); err != nil {
		s.log.WithField("err", err.Error()).Warn("expired sweep failed")
	}
}

// Start begins the background schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule, waiting for any in-flight run to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
