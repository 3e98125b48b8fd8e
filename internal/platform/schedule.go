package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers discovery on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
	spec string
}

// NewScheduler validates spec ("@every 6h", "0 */6 * * *", ...) and binds it to
// the platform's Discover. An empty spec yields a nil scheduler.
func NewScheduler(ctx context.Context, p *Platform, spec string) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		p.logger.Debug("scheduled discovery", "schedule", spec)
		p.Discover(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid discovery schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, spec: spec}, nil
}

func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
}

// Stop halts the schedule and waits for a running discovery to finish.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Scheduler) Spec() string {
	if s == nil {
		return ""
	}
	return s.spec
}
