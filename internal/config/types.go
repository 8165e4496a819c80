package config

import "time"

// Config is the on-disk bot configuration. Durations are Go duration strings
// (e.g. "500ms", "10s", "1m"). Secrets may come from the environment instead
// of the file; see ApplyEnv.
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Dispatch     DispatchConfig     `json:"dispatch"`
	Conversation ConversationConfig `json:"conversation"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	I18n         I18nConfig         `json:"i18n"`
}

type TelegramConfig struct {
	Token string `json:"token" env:"MEETBOT_TELEGRAM_TOKEN"`
	// OrganizerIDs are Telegram user ids that always act as organizers.
	OrganizerIDs []int64 `json:"organizer_ids" env:"MEETBOT_ORGANIZER_IDS" envSeparator:","`
	PollTimeout  string  `json:"poll_timeout" env:"MEETBOT_TELEGRAM_POLL_TIMEOUT"`
}

type LoggingConfig struct {
	Level   string      `json:"level" env:"MEETBOT_LOG_LEVEL"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" env:"MEETBOT_LOG_FILE"`
}

// LoggingChat forwards WARN+ log lines to a Telegram chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id" env:"MEETBOT_LOG_CHAT"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the directory database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/meetbot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@localhost/meetbot" }
type StorageConfig struct {
	Driver      string `json:"driver" env:"MEETBOT_STORAGE_DRIVER"`
	Path        string `json:"path,omitempty" env:"MEETBOT_STORAGE_PATH"`
	DSN         string `json:"dsn,omitempty" env:"MEETBOT_STORAGE_DSN"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	MaxConns    int    `json:"max_conns,omitempty"`    // postgres only
}

type DispatchConfig struct {
	// Interval is the minimum spacing between two mailing sends.
	Interval  string `json:"interval" env:"MEETBOT_DISPATCH_INTERVAL"`
	QueueSize int    `json:"queue_size"`
}

// ConversationConfig selects where question-flow states live.
//
// "memory" keeps them in the process and loses them on restart; "storage"
// shares them through the database for multi-instance deployments.
type ConversationConfig struct {
	Backend string `json:"backend" env:"MEETBOT_CONVERSATION_BACKEND"`
	TTL     string `json:"ttl"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty" env:"MEETBOT_TIMEZONE"`
	// ReminderSpec is a cron spec (seconds optional) or descriptor like "@every 1m".
	ReminderSpec string `json:"reminder_spec"`
	// ReminderLead is how long before a talk's window opens its speaker is reminded.
	ReminderLead string `json:"reminder_lead"`
	SweepSpec    string `json:"sweep_spec"`
}

type I18nConfig struct {
	DefaultLocale string `json:"default_locale" env:"MEETBOT_DEFAULT_LOCALE"`
}

const (
	DefaultPollTimeout      = 10 * time.Second
	DefaultDispatchInterval = time.Second
	DefaultQueueSize        = 64
	DefaultConversationTTL  = 30 * time.Minute
	DefaultReminderLead     = 10 * time.Minute
)

// applyDefaults fills omitted fields.
func applyDefaults(c *Config) {
	setDefault(&c.Telegram.PollTimeout, DefaultPollTimeout.String())
	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Chat.MinLevel, "warn")
	setDefault(&c.Storage.Driver, "sqlite")
	if c.Storage.Driver == "sqlite" {
		setDefault(&c.Storage.Path, "./data/meetbot.db")
	}
	setDefault(&c.Dispatch.Interval, DefaultDispatchInterval.String())
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = DefaultQueueSize
	}
	setDefault(&c.Conversation.Backend, "memory")
	setDefault(&c.Conversation.TTL, DefaultConversationTTL.String())
	setDefault(&c.Scheduler.ReminderSpec, "@every 1m")
	setDefault(&c.Scheduler.ReminderLead, DefaultReminderLead.String())
	setDefault(&c.Scheduler.SweepSpec, "@every 5m")
	setDefault(&c.I18n.DefaultLocale, "ru")
}

func setDefault(p *string, def string) {
	if *p == "" {
		*p = def
	}
}

// IsOrganizer reports whether a Telegram user id is listed as organizer.
func (c *Config) IsOrganizer(externalID int64) bool {
	for _, id := range c.Telegram.OrganizerIDs {
		if id == externalID {
			return true
		}
	}
	return false
}
