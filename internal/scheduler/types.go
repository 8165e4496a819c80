package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "meetbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Moscow"
}

// JobFunc is one run of a scheduled job. ctx carries the job timeout.
type JobFunc func(ctx context.Context) error

type jobDef struct {
	name    string
	spec    string
	timeout time.Duration
	run     JobFunc
	entryID cron.EntryID
	spread  time.Duration

	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

// JobInfo is a point-in-time view of one registered job.
type JobInfo struct {
	Name    string
	Spec    string
	Next    time.Time
	Running bool
	Runs    uint64
	Skipped uint64
	Failed  uint64
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	jobs   []*jobDef

	// base is the context runs derive from; cancelled by Stop.
	base       context.Context
	cancelBase context.CancelFunc

	now func() time.Time
}
