package integration

import (
	"testing"

	"github.com/datasektionen/hive-sub000/internal/hive/store"
)

func TestMonitor_StartsSucceeded(t *testing.T) {
	mon := NewMonitor(0)
	if !mon.Succeeded() {
		t.Fatal("expected a fresh monitor to start succeeded")
	}
	if len(mon.Logs()) != 0 {
		t.Fatalf("expected no logs, got %d", len(mon.Logs()))
	}
}

func TestMonitor_ErrorFlipsSucceeded(t *testing.T) {
	mon := NewMonitor(0)
	mon.Info("starting")
	mon.Warning("something odd: %d", 42)
	if !mon.Succeeded() {
		t.Fatal("info/warning must not affect succeeded")
	}
	mon.Error("boom: %s", "bad")
	if mon.Succeeded() {
		t.Fatal("expected an error entry to flip succeeded to false")
	}
	logs := mon.Logs()
	if len(logs) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(logs))
	}
	if logs[0].Kind != store.LogInfo || logs[1].Kind != store.LogWarning || logs[2].Kind != store.LogError {
		t.Fatalf("unexpected log kinds: %+v", logs)
	}
	if logs[2].Message != "boom: bad" {
		t.Fatalf("unexpected formatted message: %q", logs[2].Message)
	}
}

func TestMonitor_RespectsMaxLogs(t *testing.T) {
	mon := NewMonitor(2)
	mon.Info("one")
	mon.Info("two")
	mon.Info("three")
	if len(mon.Logs()) != 2 {
		t.Fatalf("expected logs to be bounded at 2, got %d", len(mon.Logs()))
	}
}
