package broadcast

import (
	"context"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"meetbot/internal/eventbus"
	logx "meetbot/pkg/logx"
)

// New builds the dispatcher. The queue accepts jobs right away; they are
// consumed once Start runs the worker.
func New(cfg Config, store ReportStore, channels ChannelSource, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.normalized()
	s := &Service{
		cfg:       cfg,
		channels:  channels,
		store:     store,
		bus:       bus,
		log:       log,
		now:       time.Now,
		pacer:     newLimiterPacer(cfg.Interval),
		queue:     make(chan job, cfg.QueueSize),
		seen:      map[int64]struct{}{},
		status:    map[int64]*JobStatus{},
		statusMax: 200,
		statusTTL: 24 * time.Hour,
	}
	return s
}

// limiterPacer allows one send per interval with no burst.
type limiterPacer struct {
	lim *rate.Limiter
}

func newLimiterPacer(interval time.Duration) *limiterPacer {
	return &limiterPacer{lim: rate.NewLimiter(rate.Every(interval), 1)}
}

func (p *limiterPacer) Wait(ctx context.Context) error { return p.lim.Wait(ctx) }

// SetInterval keeps the token state, so a send right after a change still
// waits out the spacing.
func (p *limiterPacer) SetInterval(d time.Duration) { p.lim.SetLimit(rate.Every(d)) }

// Apply updates the send interval. The queue size is fixed at construction.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Interval != s.cfg.Interval {
		s.pacer.SetInterval(cfg.Interval)
		s.log.Info("dispatch interval changed", logx.Duration("from", s.cfg.Interval), logx.Duration("to", cfg.Interval))
	}
	s.cfg.Interval = cfg.Interval
}

func (s *Service) Start(ctx context.Context) {
	// If a Stop() is in progress, wait for it to complete (prevents two workers).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	queue := s.queue
	interval := s.cfg.Interval

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.log.Debug("worker started")
		s.worker(stopCh, queue)
		s.log.Debug("worker stopped")
	}()

	s.log.Info("service started", logx.Duration("interval", interval), logx.Int("queue_cap", cap(queue)))
}

// Stop asks the worker to exit after the run in progress. It waits until the
// worker is gone or ctx is done; an unfinished run keeps going in background.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop deadline reached; dispatch run continues in background")
	}
}

func (s *Service) runJob(j job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in dispatch worker", logx.Int64("mailing", j.mailingID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			s.finish(j.mailingID)
		}
	}()
	// A run is never cancelled once started.
	s.execJob(context.Background(), j)
}
