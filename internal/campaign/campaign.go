// Package campaign drives batches of task instances until a target number
// of successes is reached, and keeps track of every running campaign.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type State string

const (
	StateIdle          State = "idle"
	StateRunning       State = "running"
	StateBatchInFlight State = "batch_in_flight"
	StateEvaluating    State = "evaluating"
	StateCompleted     State = "completed"
	StateStopped       State = "stopped"
	StateFailed        State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateStopped || s == StateFailed
}

const (
	DefaultTargetCount   = 5000
	DefaultBatchSize     = 500
	DefaultBaseDelay     = 500 * time.Millisecond
	DefaultBackoffFactor = 1.2
)

var (
	ErrNotFound      = errors.New("campaign not found")
	ErrExists        = errors.New("campaign already running for target")
	ErrRunning       = errors.New("campaign still running")
	ErrInvalidConfig = errors.New("invalid campaign config")
	ErrBatchLimit    = errors.New("batch limit reached before target")
	ErrClosed        = errors.New("campaign registry is shutting down")
	ErrFinished      = errors.New("campaign already finished")
)

type Config struct {
	Target      string         `json:"target" yaml:"target"`
	TargetCount int            `json:"target_count" yaml:"target_count"`
	BatchSize   int            `json:"batch_size" yaml:"batch_size"`
	BaseDelay   time.Duration  `json:"base_delay" yaml:"base_delay"`
	Payload     map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

func (c Config) WithDefaults() Config {
	if c.TargetCount <= 0 {
		c.TargetCount = DefaultTargetCount
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	return c
}

func (c Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidConfig)
	}
	if c.TargetCount < 0 {
		return fmt.Errorf("%w: target_count must not be negative", ErrInvalidConfig)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: batch_size must not be negative", ErrInvalidConfig)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("%w: base_delay must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Status is a point-in-time view of a campaign, shared by the status store,
// the history repository, notifications and the API.
type Status struct {
	ID             string     `json:"id"`
	Target         string     `json:"target"`
	State          State      `json:"state"`
	TargetCount    int        `json:"target_count"`
	BatchSize      int        `json:"batch_size"`
	Successes      int        `json:"successes"`
	Failures       int        `json:"failures"`
	Batches        int        `json:"batches"`
	SuccessRate    float64    `json:"success_rate"`
	Speed          float64    `json:"speed_per_min"`
	DelaySeconds   float64    `json:"delay_seconds"`
	SuccessStreak  int64      `json:"success_streak"`
	RuntimeSeconds float64    `json:"runtime_seconds"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

type BatchRecord struct {
	CampaignID   string        `json:"campaign_id"`
	Number       int           `json:"number"`
	Size         int           `json:"size"`
	Successes    int           `json:"successes"`
	Duration     time.Duration `json:"duration"`
	Throughput   float64       `json:"throughput"`
	LowYield     bool          `json:"low_yield"`
	DelaySeconds float64       `json:"delay_seconds"`
	CreatedAt    time.Time     `json:"created_at"`
}

// StatusStore shares live campaign status and stop requests between
// processes.
type StatusStore interface {
	SaveStatus(ctx context.Context, s Status) error
	StopRequested(ctx context.Context, id string) (bool, error)
	ClearStop(ctx context.Context, id string) error
}

type History interface {
	SaveRun(ctx context.Context, s Status) error
	RecordBatch(ctx context.Context, b BatchRecord) error
}

type Notifier interface {
	CampaignFinished(ctx context.Context, s Status) error
}
