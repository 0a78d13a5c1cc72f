package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"DB_DRIVER", "HOOKS_LEADER_POLL", "DELIVERY_POLL", "CRON_POLL", "KAFKA_BROKERS", "DELIVERY_BATCH", "LOG_FORMAT"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.DBDriver != DriverPostgres {
		t.Errorf("DBDriver = %q", cfg.DBDriver)
	}
	if cfg.LeaderPoll != time.Second || cfg.DeliveryPoll != time.Second || cfg.CronPoll != time.Second {
		t.Errorf("polls = %v/%v/%v", cfg.LeaderPoll, cfg.DeliveryPoll, cfg.CronPoll)
	}
	if cfg.DeliveryBatch != 100 || cfg.DeliveryWorkers != 1 {
		t.Errorf("delivery defaults = %d/%d", cfg.DeliveryBatch, cfg.DeliveryWorkers)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_DSN", "/tmp/hooks.db")
	t.Setenv("HOOKS_LOCK", "42")
	t.Setenv("HOOKS_LEADER_POLL", "250")
	t.Setenv("DELIVERY_TIMEOUT", "3s")
	t.Setenv("DELIVERY_RATE", "12.5")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg := Load()
	if cfg.DBDriver != DriverSQLite || cfg.DBDSN != "/tmp/hooks.db" {
		t.Errorf("db = %q %q", cfg.DBDriver, cfg.DBDSN)
	}
	if cfg.LockName != "42" {
		t.Errorf("LockName = %q", cfg.LockName)
	}
	if cfg.LeaderPoll != 250*time.Millisecond {
		t.Errorf("LeaderPoll = %v", cfg.LeaderPoll)
	}
	if cfg.DeliveryTimeout != 3*time.Second || cfg.DeliveryRate != 12.5 {
		t.Errorf("delivery = %v %v", cfg.DeliveryTimeout, cfg.DeliveryRate)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_PollFollowsLeaderPoll(t *testing.T) {
	t.Setenv("HOOKS_LEADER_POLL", "5000")
	t.Setenv("DELIVERY_POLL", "")
	t.Setenv("CRON_POLL", "")

	cfg := Load()
	if cfg.DeliveryPoll != 5*time.Second || cfg.CronPoll != 5*time.Second {
		t.Errorf("polls = %v/%v, want both 5s", cfg.DeliveryPoll, cfg.CronPoll)
	}

	t.Setenv("CRON_POLL", "250ms")
	cfg = Load()
	if cfg.DeliveryPoll != 5*time.Second || cfg.CronPoll != 250*time.Millisecond {
		t.Errorf("polls = %v/%v, want 5s/250ms", cfg.DeliveryPoll, cfg.CronPoll)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "bad driver", env: map[string]string{"DB_DRIVER": "mysql"}, want: "DB_DRIVER"},
		{name: "zero poll", env: map[string]string{"HOOKS_LEADER_POLL": "0"}, want: "HOOKS_LEADER_POLL"},
		{name: "malformed int", env: map[string]string{"DELIVERY_BATCH": "many"}, want: "DELIVERY_BATCH"},
		{name: "malformed duration", env: map[string]string{"DELIVERY_TIMEOUT": "10"}, want: "DELIVERY_TIMEOUT"},
		{name: "log format", env: map[string]string{"LOG_FORMAT": "xml"}, want: "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			err := Load().Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
