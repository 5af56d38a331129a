// Package cron runs the optional scheduled catalog refresh that keeps the
// snapshot cache warm. It never touches overlay state.
package cron

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cfp-titulos/titulos-backend/internal/catalog/service"
)

type Scheduler struct {
	svc  *service.CatalogService
	spec string
	c    *cron.Cron
}

func NewScheduler(svc *service.CatalogService, spec string) *Scheduler {
	return &Scheduler{svc: svc, spec: spec}
}

// Start registers the refresh job and starts the cron loop. A bad spec is
// logged and the scheduler stays off; the server keeps serving on-demand
// refreshes either way.
func (s *Scheduler) Start() {
	if s.spec == "" {
		return
	}

	s.c = cron.New()
	_, err := s.c.AddFunc(s.spec, s.runRefresh)
	if err != nil {
		log.Printf("[error] operation=scheduler invalid cron spec %q: %v", s.spec, err)
		return
	}

	log.Printf("[info] operation=scheduler catalog refresh scheduled with spec %q", s.spec)
	s.c.Start()
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
}

func (s *Scheduler) runRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := s.svc.Refresh(ctx, true)
	if err != nil {
		log.Printf("[error] operation=scheduled_refresh error=%v", err)
		return
	}
	log.Printf("[info] operation=scheduled_refresh run_id=%s courses=%d warnings=%d",
		result.RunID, len(result.Courses), len(result.Warnings))
}
