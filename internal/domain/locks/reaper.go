package locks

import (
	"context"
	"sync"
	"time"

	"tnr-records/internal/platform/logger"

	"github.com/robfig/cron/v3"
)

// Reaper corre ReapExpired según un schedule cron (con segundos, o
// descriptores como "@every 30s").
type Reaper struct {
	svc     *Service
	cron    *cron.Cron
	log     logger.Logger
	mu      sync.Mutex
	running bool
}

func NewReaper(svc *Service, schedule string, log logger.Logger) (*Reaper, error) {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Reaper{
		svc:  svc,
		cron: cron.New(cron.WithSeconds()),
		log:  log.With(map[string]any{"component": "lock_reaper"}),
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.cron.Start()
	r.running = true
	r.log.Info("lock reaper started", nil)
}

// Stop espera a que termine la corrida en curso o a que venza ctx.
func (r *Reaper) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	select {
	case <-r.cron.Stop().Done():
		r.log.Info("lock reaper stopped", nil)
	case <-ctx.Done():
		r.log.Warn("lock reaper stop timeout", nil)
	}
	r.running = false
}

func (r *Reaper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := r.svc.ReapExpired(ctx); err != nil {
		r.log.Error("lock reap failed", map[string]any{"error": err})
	}
}
