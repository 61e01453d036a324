package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nadmax/nexrun/internal/logger"
)

const (
	WindowSize    = 10
	HourKeyLayout = "2006-01-02 15:00"
)

// Snapshot is the persisted form of a Tracker.
type Snapshot struct {
	Successes      int            `json:"successes"`
	Failures       int            `json:"failures"`
	SuccessRate    float64        `json:"success_rate"`
	HourlyStats    map[string]int `json:"hourly_stats"`
	RuntimeSeconds float64        `json:"runtime_seconds"`
}

type Report struct {
	Successes      int           `json:"successes"`
	Failures       int           `json:"failures"`
	SuccessRate    float64       `json:"success_rate"`
	Runtime        time.Duration `json:"runtime"`
	SuccessPerHour float64       `json:"success_per_hour"`
}

// Tracker counts outcomes for one campaign. Every mutation rewrites the
// snapshot file in full; the write goes to a temp file that is renamed over
// the old one so readers never see a partial document.
type Tracker struct {
	mu        sync.Mutex
	path      string
	start     time.Time
	successes int
	failures  int
	window    []time.Time
	hourly    map[string]int
	speed     float64
	now       func() time.Time
}

// NewTracker returns a tracker persisting to path; an empty path keeps it
// in memory only.
func NewTracker(path string) *Tracker {
	return newTrackerAt(path, time.Now)
}

func newTrackerAt(path string, now func() time.Time) *Tracker {
	return &Tracker{
		path:   path,
		start:  now(),
		window: make([]time.Time, 0, WindowSize+1),
		hourly: make(map[string]int),
		now:    now,
	}
}

func (t *Tracker) LogSuccess() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.successes++
	t.hourly[now.Format(HourKeyLayout)]++

	t.window = append(t.window, now)
	if len(t.window) > WindowSize {
		t.window = t.window[1:]
	}
	t.speed = windowSpeed(t.window)

	logger.WithComponent("metrics").Debug().
		Int("successes", t.successes).
		Float64("speed_per_min", t.speed).
		Float64("success_rate", SuccessRate(t.successes, t.failures)).
		Msg("Success recorded.")

	return t.persistLocked()
}

func (t *Tracker) LogFailure() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures++
	return t.persistLocked()
}

func (t *Tracker) Successes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.successes
}

func (t *Tracker) Failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

func (t *Tracker) SuccessRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return SuccessRate(t.successes, t.failures)
}

// Speed is successes per minute over the rolling window.
func (t *Tracker) Speed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speed
}

func (t *Tracker) windowCopy() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]time.Time, len(t.window))
	copy(out, t.window)
	return out
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) FinalReport() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	runtime := t.now().Sub(t.start)
	var perHour float64
	if hours := runtime.Hours(); hours > 0 {
		perHour = float64(t.successes) / hours
	}

	return Report{
		Successes:      t.successes,
		Failures:       t.failures,
		SuccessRate:    SuccessRate(t.successes, t.failures),
		Runtime:        runtime,
		SuccessPerHour: perHour,
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	hourly := make(map[string]int, len(t.hourly))
	for k, v := range t.hourly {
		hourly[k] = v
	}

	return Snapshot{
		Successes:      t.successes,
		Failures:       t.failures,
		SuccessRate:    SuccessRate(t.successes, t.failures),
		HourlyStats:    hourly,
		RuntimeSeconds: t.now().Sub(t.start).Seconds(),
	}
}

func (t *Tracker) persistLocked() error {
	if t.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(t.snapshotLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics snapshot: %w", err)
	}
	return writeFileAtomic(t.path, data)
}

// SuccessRate is a percentage, defined as 0 before any attempt.
func SuccessRate(successes, failures int) float64 {
	total := successes + failures
	if total == 0 {
		return 0
	}
	return float64(successes) / float64(total) * 100
}

func windowSpeed(window []time.Time) float64 {
	if len(window) < 2 {
		return 0
	}
	span := window[len(window)-1].Sub(window[0]).Minutes()
	if span <= 0 {
		return 0
	}
	return float64(len(window)-1) / span
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync metrics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close metrics: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace metrics file: %w", err)
	}
	return nil
}

func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics snapshot: %w", err)
	}
	return &s, nil
}
