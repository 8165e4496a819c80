package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"meetbot/internal/eventbus"
	"meetbot/internal/meetup"
	kit "meetbot/internal/transport"
	logx "meetbot/pkg/logx"
)

const (
	DefaultInterval  = time.Second
	DefaultQueueSize = 64
)

var (
	ErrQueueFull         = errors.New("dispatch queue full")
	ErrAlreadyQueued     = errors.New("mailing already queued for dispatch")
	ErrAlreadyDispatched = errors.New("mailing already dispatched")
	ErrNoRecipients      = errors.New("mailing has no recipients")
)

type Config struct {
	// Interval is the minimum spacing between two consecutive sends.
	Interval  time.Duration
	QueueSize int
}

func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Pacer blocks until the next send is allowed. SetInterval retunes it
// without resetting the spacing of the send in progress.
type Pacer interface {
	Wait(ctx context.Context) error
	SetInterval(d time.Duration)
}

// ChannelSource hands out the delivery channel for one dispatch run. release
// is called when the run is over.
type ChannelSource interface {
	Acquire(ctx context.Context) (ch kit.Channel, release func(), err error)
}

// ReportStore is the part of the directory the dispatcher writes to.
type ReportStore interface {
	CreateMailing(ctx context.Context, m *meetup.Mailing) error
	MailingByID(ctx context.Context, id int64) (*meetup.Mailing, error)
	AppendReport(ctx context.Context, r *meetup.Report) error
	CountReports(ctx context.Context, mailingID int64) (int, error)
}

type job struct {
	mailingID int64
}

// JobStatus is the in-memory progress of one dispatch run.
type JobStatus struct {
	MailingID int64
	Total     int
	Done      int
	Failed    int
	// QueuedAt is when Enqueue accepted the mailing.
	QueuedAt  time.Time
	StartedAt time.Time
	DoneAt    time.Time
	Running   bool
}

type Service struct {
	mu sync.Mutex

	cfg      Config
	channels ChannelSource
	store    ReportStore
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	pacer Pacer

	queue  chan job
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when the worker fully exits.
	stopDone chan struct{}
	workerWG sync.WaitGroup

	// seen holds every mailing accepted by Enqueue during this process lifetime.
	seen map[int64]struct{}

	statusMu  sync.RWMutex
	status    map[int64]*JobStatus
	statusMax int
	statusTTL time.Duration
}
