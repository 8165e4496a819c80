package app

import (
	"fmt"
	"strings"
	"time"

	"meetbot/internal/bot"
	"meetbot/internal/broadcast"
	"meetbot/internal/config"
	"meetbot/internal/scheduler"
	"meetbot/internal/storage"
)

const (
	handlerTimeout = 15 * time.Second
	jobTimeout     = 30 * time.Second
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch driver {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		return storage.Config{}, fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver)
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		DSN:         strings.TrimSpace(cfg.Storage.DSN),
		BusyTimeout: busy,
		MaxConns:    cfg.Storage.MaxConns,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (broadcast.Config, error) {
	interval, err := config.ParseDurationOrDefault("dispatch.interval", cfg.Dispatch.Interval, broadcast.DefaultInterval)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{Interval: interval, QueueSize: cfg.Dispatch.QueueSize}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

func mapBotConfig(cfg *config.Config) bot.Config {
	return bot.Config{
		Location:   cfg.Location(),
		Timeout:    handlerTimeout,
		Organizers: cfg.Telegram.OrganizerIDs,
	}
}

func reminderLead(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("scheduler.reminder_lead", cfg.Scheduler.ReminderLead, config.DefaultReminderLead)
}

func conversationTTL(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("conversation.ttl", cfg.Conversation.TTL, config.DefaultConversationTTL)
}

// validateReload checks what Validate cannot: cron specs and the mapped
// component configs.
func validateReload(sched *scheduler.Service, cfg *config.Config) error {
	if err := sched.ParseSpec(cfg.Scheduler.ReminderSpec); err != nil {
		return fmt.Errorf("scheduler.reminder_spec: %w", err)
	}
	if err := sched.ParseSpec(cfg.Scheduler.SweepSpec); err != nil {
		return fmt.Errorf("scheduler.sweep_spec: %w", err)
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, err := reminderLead(cfg); err != nil {
		return err
	}
	return nil
}
