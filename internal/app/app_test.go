package app

import (
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"meetbot/internal/config"
	"meetbot/internal/scheduler"
	logx "meetbot/pkg/logx"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram:     config.TelegramConfig{Token: "t", OrganizerIDs: []int64{5}},
		Storage:      config.StorageConfig{Driver: "SQLite", Path: " ./x.db ", BusyTimeout: "2s"},
		Dispatch:     config.DispatchConfig{QueueSize: 8},
		Conversation: config.ConversationConfig{TTL: "5m"},
		Scheduler: config.SchedulerConfig{
			Enabled:      true,
			Timezone:     "UTC",
			ReminderSpec: "@every 1m",
			SweepSpec:    "*/5 * * * *",
		},
	}
}

func TestMapStorageConfig(t *testing.T) {
	sc, err := mapStorageConfig(baseConfig())
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if sc.Driver != "sqlite" || sc.Path != "./x.db" || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("storage = %+v", sc)
	}

	cfg := baseConfig()
	cfg.Storage.Driver = "mysql"
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("unsupported driver accepted")
	}
}

func TestMapDispatchConfigDefaults(t *testing.T) {
	dc, err := mapDispatchConfig(baseConfig())
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if dc.Interval != time.Second || dc.QueueSize != 8 {
		t.Fatalf("dispatch = %+v", dc)
	}
}

func TestMapBotAndSchedulerConfig(t *testing.T) {
	cfg := baseConfig()
	bc := mapBotConfig(cfg)
	if bc.Location != time.UTC || len(bc.Organizers) != 1 || bc.Timeout != handlerTimeout {
		t.Fatalf("bot = %+v", bc)
	}
	if sc := mapSchedulerConfig(cfg); !sc.Enabled || sc.Timezone != "UTC" {
		t.Fatalf("scheduler = %+v", sc)
	}
	if ttl, err := conversationTTL(cfg); err != nil || ttl != 5*time.Minute {
		t.Fatalf("ttl = %v, %v", ttl, err)
	}
	if lead, err := reminderLead(cfg); err != nil || lead != config.DefaultReminderLead {
		t.Fatalf("lead = %v, %v", lead, err)
	}
}

func TestValidateReload(t *testing.T) {
	sched := scheduler.New(scheduler.Config{}, logx.Nop())
	if err := validateReload(sched, baseConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := baseConfig()
	cfg.Scheduler.SweepSpec = "every five minutes"
	err := validateReload(sched, cfg)
	if err == nil || !strings.Contains(err.Error(), "sweep_spec") {
		t.Fatalf("err = %v", err)
	}

	cfg = baseConfig()
	cfg.Dispatch.Interval = "fast"
	if err := validateReload(sched, cfg); err == nil {
		t.Fatal("bad interval accepted")
	}
}

func TestStopReasonFromSignal(t *testing.T) {
	tests := map[os.Signal]StopReason{
		os.Interrupt:    StopSIGINT,
		syscall.SIGTERM: StopSIGTERM,
		syscall.SIGHUP:  StopUnknown,
	}
	for sig, want := range tests {
		if got := StopReasonFromSignal(sig); got != want {
			t.Errorf("StopReasonFromSignal(%v) = %q, want %q", sig, got, want)
		}
	}
}
