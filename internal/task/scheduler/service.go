package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "tickbot/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log:    log,
		parser: cronParser,
	}
}

// Apply updates the timezone. A running clock restarts with the new
// location and keeps its schedules.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c != nil && oldTZ != newTZ {
		s.restartLocked()
	}
}

// Start starts triggering. Schedules registered with RunOnStart fire once
// right away; regular ticks follow at their period.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	// Jobs outlive ctx until Stop cancels them, so a signal does not cut a send short.
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.loc = s.loadLocationLocked()
	s.c = s.newCronLocked()
	for i := range s.defs {
		if err := s.registerLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.String("spec", s.defs[i].spec), logx.Err(err))
		}
	}
	s.c.Start()

	for i := range s.defs {
		if s.defs[i].opt.RunOnStart {
			s.runNowLocked(&s.defs[i])
		}
	}
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering, cancels running jobs and waits for them until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	stopped := c.Stop()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.onStart.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out; jobs still running", logx.Err(ctx.Err()))
	}

	s.mu.Lock()
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) newCronLocked() *cron.Cron {
	return cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
	)
}

func (s *Service) restartLocked() {
	if s.c != nil {
		// Jobs in flight keep running; SkipIfStillRunning is shared, so the
		// new clock cannot overlap them.
		s.c.Stop()
	}
	s.loc = s.loadLocationLocked()
	s.c = s.newCronLocked()
	for i := range s.defs {
		_ = s.registerLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// registerLocked adds d to the running cron. Call with s.mu held and s.c set.
func (s *Service) registerLocked(d *scheduleDef) error {
	if d.every > 0 {
		d.entryID = s.c.Schedule(intervalSchedule{start: time.Now(), every: d.every}, d.wrapped)
		return nil
	}
	id, err := s.c.AddJob(d.spec, d.wrapped)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) runNowLocked(d *scheduleDef) {
	job := d.wrapped
	s.onStart.Add(1)
	go func() {
		defer s.onStart.Done()
		job.Run()
	}()
}

// wrap builds the cron job for d: skip-if-running, recover, then the
// timeout-bounded call with run accounting. Recover sits inside the skip
// guard so a panicking run still releases it.
func (s *Service) wrap(d *scheduleDef) cron.Job {
	name, opt, job, st := d.name, d.opt, d.job, d.stats
	log := s.log.With(logx.String("schedule", name))

	run := cron.FuncJob(func() {
		s.mu.Lock()
		parent := s.runCtx
		s.mu.Unlock()
		if parent == nil || parent.Err() != nil {
			return
		}
		ctx, cancel := parent, context.CancelFunc(func() {})
		if opt.Timeout > 0 {
			ctx, cancel = context.WithTimeout(parent, opt.Timeout)
		}
		defer cancel()

		start := time.Now()
		st.begin(start)
		defer func() {
			// Count the panic, then let Recover log it.
			if r := recover(); r != nil {
				st.end(time.Since(start), fmt.Errorf("panic: %v", r))
				panic(r)
			}
		}()

		err := job(ctx)
		st.end(time.Since(start), err)
		if err != nil {
			log.Warn("job failed", logx.Err(err), logx.Duration("took", time.Since(start)))
			return
		}
		log.Debug("job done", logx.Duration("took", time.Since(start)))
	})

	cl := cronLogger{log: log}
	return cron.NewChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)).Then(run)
}

func (st *runStats) begin(t time.Time) {
	st.mu.Lock()
	st.running = true
	st.lastRun = t
	st.mu.Unlock()
}

func (st *runStats) end(took time.Duration, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.running = false
	st.runs++
	st.lastTook = took
	st.lastErr = ""
	if err != nil {
		st.failures++
		st.lastErr = err.Error()
	}
}
