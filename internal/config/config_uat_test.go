package config

import (
	"strings"
	"testing"
)

func TestUAT_DefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Agent.TargetSelections != DefaultTargetSelections {
		t.Fatalf("expected %d target selections, got %d", DefaultTargetSelections, cfg.Agent.TargetSelections)
	}
	if cfg.Agent.MaxToolRounds != DefaultMaxToolRounds {
		t.Fatalf("expected %d tool rounds, got %d", DefaultMaxToolRounds, cfg.Agent.MaxToolRounds)
	}
	if len(cfg.Knowledge.GenericTypes) == 0 {
		t.Fatal("expected generic entity types to be set")
	}
}

func TestUAT_Validate_TargetSelectionsAboveFive(t *testing.T) {
	cfg := Default()
	cfg.Agent.TargetSelections = 6
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for target_selections = 6")
	}
	if !strings.Contains(err.Error(), "target_selections") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUAT_Validate_ZeroToolRounds(t *testing.T) {
	cfg := Default()
	cfg.Agent.MaxToolRounds = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "max_tool_rounds") {
		t.Fatalf("expected max_tool_rounds error, got %v", err)
	}
}

func TestUAT_Validate_UnknownStoreDriver(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "mongo"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "store.driver") {
		t.Fatalf("expected store.driver error, got %v", err)
	}
}

func TestUAT_Validate_MemoryDriverNeedsNoDSN(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "memory"
	cfg.Store.DSN = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory driver should not need a dsn: %v", err)
	}
}

func TestUAT_Validate_WeightOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Scoring.NoveltyWeight = 1.5
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "novelty_weight") {
		t.Fatalf("expected novelty_weight error, got %v", err)
	}
}

func TestUAT_Validate_ZeroBatchConcurrency(t *testing.T) {
	cfg := Default()
	cfg.Batch.Concurrency = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "batch.concurrency") {
		t.Fatalf("expected batch.concurrency error, got %v", err)
	}
}

func TestUAT_ClaudeConfigMasksKey(t *testing.T) {
	c := ClaudeConfig{APIKey: "sk-ant-1234567890abcdef", Model: "m"}
	s := c.String()
	if strings.Contains(s, "1234567890") {
		t.Fatalf("api key leaked: %s", s)
	}
	if !strings.Contains(s, "sk-a****cdef") {
		t.Fatalf("unexpected mask: %s", s)
	}
	short := ClaudeConfig{APIKey: "abc"}
	if !strings.Contains(short.String(), "***") {
		t.Fatalf("short keys should be fully masked: %s", short.String())
	}
}
