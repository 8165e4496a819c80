package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "meetbot/pkg/logx"
)

var (
	ErrDuplicateJob = errors.New("scheduler: job already registered")
	ErrUnknownJob   = errors.New("scheduler: unknown job")
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional accepts both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

// ParseSpec reports whether spec is a valid cron spec or descriptor.
func (s *Service) ParseSpec(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return errors.New("schedule required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Add registers a job. Runs of the same job never overlap: a trigger that
// fires while the previous run is still going is skipped.
func (s *Service) Add(name, spec string, timeout time.Duration, run JobFunc) error {
	if err := s.ParseSpec(spec); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	if run == nil {
		return fmt.Errorf("job %s: nil func", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.jobs {
		if d.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
		}
	}
	d := &jobDef{name: name, spec: strings.TrimSpace(spec), timeout: timeout, run: run}
	s.jobs = append(s.jobs, d)
	if s.c != nil {
		return s.scheduleLocked(d)
	}
	return nil
}

// Reschedule changes the spec of a registered job.
func (s *Service) Reschedule(name, spec string) error {
	if err := s.ParseSpec(spec); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.jobs {
		if d.name != name {
			continue
		}
		spec = strings.TrimSpace(spec)
		if d.spec == spec {
			return nil
		}
		d.spec = spec
		if s.c != nil {
			s.c.Remove(d.entryID)
			return s.scheduleLocked(d)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// Apply swaps the config. A timezone change restarts cron with the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.c.Stop()
		s.startLocked()
		s.log.Info("timezone changed; schedules re-registered", logx.String("tz", s.loc.String()))
	}
}

// Start begins triggering registered jobs. It is a no-op when disabled or
// already started.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.base, s.cancelBase = context.WithCancel(context.WithoutCancel(ctx))
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) startLocked() {
	s.loc = loadLocation(s.cfg.Timezone, s.log)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.jobs {
		if err := s.scheduleLocked(d); err != nil {
			s.log.Warn("schedule failed", logx.String("job", d.name), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop halts triggering, cancels running jobs and waits for them until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancelBase
	s.mu.Unlock()
	if c == nil {
		return
	}

	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out; jobs still running")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// RunNow runs a registered job synchronously, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var def *jobDef
	for _, d := range s.jobs {
		if d.name == name {
			def = d
		}
	}
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, def)
}

// Jobs returns a snapshot of registered jobs in registration order.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, d := range s.jobs {
		info := JobInfo{
			Name:    d.name,
			Spec:    d.spec,
			Running: d.running.Load(),
			Runs:    d.runs.Load(),
			Skipped: d.skipped.Load(),
			Failed:  d.failed.Load(),
		}
		if s.c != nil {
			info.Next = s.c.Entry(d.entryID).Next
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) scheduleLocked(d *jobDef) error {
	base := s.base
	job := cron.FuncJob(func() { _ = s.execute(base, d) })

	if every, ok := parseEvery(d.spec); ok {
		sched, jitter := spreadInterval(every, s.now().In(s.loc), d.name)
		d.spread = jitter
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}
	d.spread = 0
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// execute runs d once unless a previous run is still in flight.
func (s *Service) execute(ctx context.Context, d *jobDef) (err error) {
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.log.Debug("job still running; trigger skipped", logx.String("job", d.name))
		return nil
	}
	defer d.running.Store(false)
	d.runs.Add(1)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panic", logx.String("job", d.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		if err != nil {
			d.failed.Add(1)
			s.log.Warn("job failed", logx.String("job", d.name), logx.Err(err))
			return
		}
		s.log.Debug("job done", logx.String("job", d.name), logx.Duration("took", s.now().Sub(start)))
	}()
	return d.run(ctx)
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func parseEvery(spec string) (time.Duration, bool) {
	if !strings.HasPrefix(spec, "@every") {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
