package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "tickbot/pkg/logx"
)

// AddSchedule parses schedule and registers either a cron or an interval job.
//
// Supported schedule formats:
//   - Interval duration: "1m", "30s"
//   - Interval HH:MM: "00:50" (50 minutes)
//   - Cron: "* * * * *", "*/5 * * * *", "@hourly", "@every 55m"
func (s *Service) AddSchedule(name, schedule string, opt Options, job Job) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.AddCron(name, ps.Cron, opt, job)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, opt, job)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

// AddCron registers job under a cron expression evaluated in the service timezone.
func (s *Service) AddCron(name, spec string, opt Options, job Job) (string, error) {
	spec = strings.TrimSpace(spec)
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("cron %q: %w", spec, err)
	}
	return s.add(scheduleDef{name: name, spec: spec, opt: opt, job: job})
}

// AddInterval registers job to fire every period.
func (s *Service) AddInterval(name string, every time.Duration, opt Options, job Job) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.add(scheduleDef{name: name, spec: "@interval " + every.String(), every: every, opt: opt, job: job})
}

func (s *Service) add(d scheduleDef) (string, error) {
	d.name = strings.TrimSpace(d.name)
	if d.name == "" {
		return "", errors.New("name required")
	}
	if d.job == nil {
		return "", errors.New("job required")
	}
	d.stats = &runStats{}
	d.wrapped = s.wrap(&d)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so repeated registrations do not duplicate.
	_ = s.removeLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Registered with cron when Start runs.
		return d.name, nil
	}

	nd := &s.defs[len(s.defs)-1]
	if err := s.registerLocked(nd); err != nil {
		s.log.Error("schedule register failed", logx.String("name", nd.name), logx.String("spec", nd.spec), logx.Err(err))
		return nd.name, err
	}
	s.log.Debug("schedule registered",
		logx.String("name", nd.name),
		logx.String("spec", nd.spec),
		logx.Duration("timeout", nd.opt.Timeout),
		logx.Time("next", s.c.Entry(nd.entryID).Next),
	)
	if nd.opt.RunOnStart {
		s.runNowLocked(nd)
	}
	return nd.name, nil
}

// Remove unschedules name. It returns true if something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeLocked drops defs matching name and unregisters them from cron if
// running. Call with s.mu held.
func (s *Service) removeLocked(name string) bool {
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	for i := n; i < len(s.defs); i++ {
		s.defs[i] = scheduleDef{}
	}
	s.defs = s.defs[:n]
	return removed
}
