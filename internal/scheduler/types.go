package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"dutyrec/internal/eventbus"
	"dutyrec/internal/runtime/supervisor"
	"dutyrec/internal/schedule"
	logx "dutyrec/pkg/logx"
)

const (
	ModeCron = "cron"
	ModePoll = "poll"

	DefaultTimezone     = "Asia/Kolkata"
	DefaultPollInterval = 60 * time.Second
)

// Config controls the trigger scheduler.
type Config struct {
	Timezone     string        // IANA TZ, e.g. "Asia/Kolkata"
	Mode         string        // "cron" (default) or "poll"
	PollInterval time.Duration // poll mode only
}

// FireFunc starts whatever a due trigger stands for (a recording session).
type FireFunc func(ctx context.Context, t schedule.Trigger)

type armedTrigger struct {
	t       schedule.Trigger
	entryID cron.EntryID
}

type jobDef struct {
	name    string
	spec    string
	job     func(ctx context.Context) error
	entryID cron.EntryID
	running *atomic.Bool
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	bus  eventbus.Bus
	sup  *supervisor.Supervisor
	fire FireFunc
	now  func() time.Time

	parser cron.Parser
	c      *cron.Cron

	// gen increments on every ArmAll/DisarmAll; callbacks carrying an older
	// generation are dropped.
	gen   uint64
	armed []armedTrigger
	jobs  []jobDef

	// poll mode: trigger ID -> minute it last fired.
	lastFired map[string]time.Time
	pollStop  context.CancelFunc

	// running is what Start/Stop asked for; a restart in progress must not
	// bring back a scheduler that was stopped meanwhile.
	running bool

	// Test hooks. onTick runs in a cron trigger callback before dispatch;
	// beforeLaunch runs inside dispatch with mu held.
	onTick       func()
	beforeLaunch func()
}

type TriggerInfo struct {
	ID      string    `json:"id"`
	Duty    string    `json:"duty"`
	DateKey string    `json:"date_key"`
	Pattern string    `json:"pattern"`
	Window  string    `json:"window"`
	Next    time.Time `json:"next,omitempty"`
}

type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitempty"`
	Prev time.Time `json:"prev,omitempty"`
}

type Snapshot struct {
	Running    bool          `json:"running"`
	Mode       string        `json:"mode"`
	Timezone   string        `json:"timezone"`
	Generation uint64        `json:"generation"`
	Triggers   []TriggerInfo `json:"triggers"`
	Jobs       []JobInfo     `json:"jobs"`
}
