// Package schedule provides the periodic-task schedule and the dispatch
// engine that evaluates it. Entries are declared in a YAML file and fire
// either on a cron expression or at a fixed interval.
package schedule

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Entry defines a single periodic task.
type Entry struct {
	Name     string         `yaml:"name"`
	Cron     string         `yaml:"cron,omitempty"`
	Every    string         `yaml:"every,omitempty"`
	Task     string         `yaml:"task"`
	Payload  map[string]any `yaml:"payload,omitempty"`
	Disabled bool           `yaml:"disabled,omitempty"`

	cronSched cron.Schedule
	interval  time.Duration
}

// Interval returns the parsed fixed interval, or zero for cron entries.
func (e *Entry) Interval() time.Duration {
	return e.interval
}

// IsCron reports whether the entry fires on a cron expression.
func (e *Entry) IsCron() bool {
	return e.cronSched != nil
}

// NextDue returns when the entry should next fire. last is the recorded
// last dispatch time (zero if the entry has never fired); anchor is when the
// engine first saw the entry this run. Interval entries with no history are
// due at the anchor; cron entries align to the next cron boundary.
func (e *Entry) NextDue(last, anchor time.Time) time.Time {
	if e.cronSched != nil {
		ref := last
		if ref.IsZero() {
			ref = anchor
		}
		return e.cronSched.Next(ref)
	}
	if last.IsZero() {
		return anchor
	}
	return last.Add(e.interval)
}

// Schedule is a validated set of entries.
type Schedule struct {
	Version string  `yaml:"version"`
	Entries []Entry `yaml:"entries"`
}

// Enabled returns the entries that are not disabled.
func (s *Schedule) Enabled() []*Entry {
	var entries []*Entry
	for i := range s.Entries {
		if !s.Entries[i].Disabled {
			entries = append(entries, &s.Entries[i])
		}
	}
	return entries
}

// Parse parses and validates a schedule from YAML bytes.
func Parse(data []byte) (*Schedule, error) {
	var sched Schedule
	if err := yaml.Unmarshal(data, &sched); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := sched.validate(); err != nil {
		return nil, err
	}
	return &sched, nil
}

// LoadFile reads and parses a schedule file.
func LoadFile(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}
	return Parse(data)
}

func (s *Schedule) validate() error {
	if s.Version != "" && s.Version != "1" && s.Version != "1.0" {
		return fmt.Errorf("unsupported schedule version: %s (supported: 1, 1.0)", s.Version)
	}

	names := make(map[string]bool)
	for i := range s.Entries {
		entry := &s.Entries[i]

		if entry.Name == "" {
			return fmt.Errorf("entry[%d]: name is required", i)
		}
		if names[entry.Name] {
			return fmt.Errorf("entry[%d]: duplicate entry name: %s", i, entry.Name)
		}
		names[entry.Name] = true

		if entry.Task == "" {
			return fmt.Errorf("entry[%d] %s: task is required", i, entry.Name)
		}

		hasCron := entry.Cron != ""
		hasEvery := entry.Every != ""
		if hasCron == hasEvery {
			return fmt.Errorf("entry[%d] %s: exactly one of cron or every is required", i, entry.Name)
		}

		if hasCron {
			sched, err := cron.ParseStandard(entry.Cron)
			if err != nil {
				return fmt.Errorf("entry[%d] %s: invalid cron expression %q: %w", i, entry.Name, entry.Cron, err)
			}
			entry.cronSched = sched
		} else {
			interval, err := time.ParseDuration(entry.Every)
			if err != nil {
				return fmt.Errorf("entry[%d] %s: invalid interval %q: %w", i, entry.Name, entry.Every, err)
			}
			if interval <= 0 {
				return fmt.Errorf("entry[%d] %s: interval must be positive", i, entry.Name)
			}
			entry.interval = interval
		}
	}

	return nil
}
