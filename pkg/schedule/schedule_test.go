package schedule

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
version: "1"
entries:
  - name: nightly-rollup
    cron: "0 4 * * *"
    task: reports.rollup
    payload:
      window: 24h
  - name: heartbeat
    every: 30s
    task: ops.heartbeat
  - name: paused-job
    every: 1m
    task: ops.paused
    disabled: true
`

func TestParse_Valid(t *testing.T) {
	sched, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(sched.Entries) != 3 {
		t.Fatalf("len(Entries) = %d, want 3", len(sched.Entries))
	}

	rollup := &sched.Entries[0]
	if !rollup.IsCron() {
		t.Error("nightly-rollup should be a cron entry")
	}
	if rollup.Payload["window"] != "24h" {
		t.Errorf("Payload[window] = %v, want 24h", rollup.Payload["window"])
	}

	heartbeat := &sched.Entries[1]
	if heartbeat.IsCron() {
		t.Error("heartbeat should be an interval entry")
	}
	if heartbeat.Interval() != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", heartbeat.Interval())
	}
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			yaml:    "entries: [",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "unsupported version",
			yaml:    "version: \"2\"\nentries: []",
			wantErr: "unsupported schedule version",
		},
		{
			name:    "missing name",
			yaml:    "entries:\n  - every: 30s\n    task: ops.heartbeat",
			wantErr: "name is required",
		},
		{
			name: "duplicate name",
			yaml: `entries:
  - name: heartbeat
    every: 30s
    task: ops.heartbeat
  - name: heartbeat
    every: 1m
    task: ops.heartbeat`,
			wantErr: "duplicate entry name",
		},
		{
			name:    "missing task",
			yaml:    "entries:\n  - name: heartbeat\n    every: 30s",
			wantErr: "task is required",
		},
		{
			name: "both cron and every",
			yaml: `entries:
  - name: heartbeat
    cron: "* * * * *"
    every: 30s
    task: ops.heartbeat`,
			wantErr: "exactly one of cron or every",
		},
		{
			name:    "neither cron nor every",
			yaml:    "entries:\n  - name: heartbeat\n    task: ops.heartbeat",
			wantErr: "exactly one of cron or every",
		},
		{
			name:    "invalid cron",
			yaml:    "entries:\n  - name: heartbeat\n    cron: \"not a cron\"\n    task: ops.heartbeat",
			wantErr: "invalid cron expression",
		},
		{
			name:    "invalid interval",
			yaml:    "entries:\n  - name: heartbeat\n    every: banana\n    task: ops.heartbeat",
			wantErr: "invalid interval",
		},
		{
			name:    "non-positive interval",
			yaml:    "entries:\n  - name: heartbeat\n    every: -30s\n    task: ops.heartbeat",
			wantErr: "interval must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beat-fleet.yml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("failed to write schedule file: %v", err)
	}

	sched, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(sched.Entries) != 3 {
		t.Errorf("len(Entries) = %d, want 3", len(sched.Entries))
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err == nil {
		t.Error("LoadFile() expected error for missing file")
	}
}

func TestSchedule_Enabled(t *testing.T) {
	sched, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	entries := sched.Enabled()
	if len(entries) != 2 {
		t.Fatalf("Enabled() = %d entries, want 2", len(entries))
	}
	for _, entry := range entries {
		if entry.Disabled {
			t.Errorf("Enabled() returned disabled entry %s", entry.Name)
		}
	}
}

func TestEntry_NextDue_Interval(t *testing.T) {
	sched, err := Parse([]byte("entries:\n  - name: heartbeat\n    every: 30s\n    task: ops.heartbeat"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	entry := &sched.Entries[0]

	anchor := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	// Never fired: due at the anchor.
	if due := entry.NextDue(time.Time{}, anchor); !due.Equal(anchor) {
		t.Errorf("NextDue(zero) = %v, want %v", due, anchor)
	}

	// Fired before: due one interval after the last dispatch.
	last := anchor.Add(-10 * time.Second)
	want := last.Add(30 * time.Second)
	if due := entry.NextDue(last, anchor); !due.Equal(want) {
		t.Errorf("NextDue(last) = %v, want %v", due, want)
	}
}

func TestEntry_NextDue_Cron(t *testing.T) {
	sched, err := Parse([]byte("entries:\n  - name: hourly\n    cron: \"0 * * * *\"\n    task: ops.hourly"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	entry := &sched.Entries[0]

	anchor := time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC)

	// Never fired: aligns to the next boundary, not the anchor.
	want := time.Date(2026, 2, 3, 11, 0, 0, 0, time.UTC)
	if due := entry.NextDue(time.Time{}, anchor); !due.Equal(want) {
		t.Errorf("NextDue(zero) = %v, want %v", due, want)
	}

	// Fired at 09:00: next boundary after that is 10:00.
	last := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	want = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	if due := entry.NextDue(last, anchor); !due.Equal(want) {
		t.Errorf("NextDue(last) = %v, want %v", due, want)
	}
}
