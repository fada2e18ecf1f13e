package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "tickbot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means local
}

// Job is the unit the clock fires. Returned errors are logged, never retried.
type Job func(ctx context.Context) error

// Options tune a single schedule.
type Options struct {
	// Timeout bounds one run; 0 means no deadline beyond service shutdown.
	Timeout time.Duration
	// RunOnStart fires the job once immediately when the service starts,
	// before the first regular tick.
	RunOnStart bool
}

type scheduleDef struct {
	name    string
	spec    string // cron spec or "@interval <d>"
	every   time.Duration
	opt     Options
	job     Job
	wrapped cron.Job // recover + skip-if-running chain, shared across restarts
	entryID cron.EntryID
	stats   *runStats
}

type runStats struct {
	mu       sync.Mutex
	runs     uint64
	failures uint64
	running  bool
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// runCtx is cancelled by Stop so in-flight jobs see shutdown.
	runCtx    context.Context
	runCancel context.CancelFunc
	onStart   sync.WaitGroup
}

type ScheduleInfo struct {
	Name     string
	Spec     string
	Timeout  time.Duration
	Next     time.Time
	Prev     time.Time
	Runs     uint64
	Failures uint64
	Running  bool
	LastTook time.Duration
	LastErr  string
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}
