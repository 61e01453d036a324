// Package task defines the unit of work a campaign fans out, the outcome of
// one attempt at it, and the executor contract that performs it.
package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/nexrun/internal/resource"
)

type (
	Outcome string
	Task    struct {
		ID         string         `json:"id"`
		CampaignID string         `json:"campaign_id"`
		Target     string         `json:"target"`
		Payload    map[string]any `json:"payload,omitempty"`
		Attempt    int            `json:"attempt"`
		CreatedAt  time.Time      `json:"created_at"`
	}
)

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Result is the immutable outcome of one task instance after retries.
type Result struct {
	TaskID   string        `json:"task_id"`
	Outcome  Outcome       `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Calls    int           `json:"calls"`
	Resource string        `json:"resource,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Executor performs one call of a task through the given resource. Any
// returned error counts as a failed call.
type Executor interface {
	Execute(ctx context.Context, t *Task, r resource.Resource) error
}

type ExecutorFunc func(ctx context.Context, t *Task, r resource.Resource) error

func (f ExecutorFunc) Execute(ctx context.Context, t *Task, r resource.Resource) error {
	return f(ctx, t, r)
}

// Factory builds the i-th task of a batch.
type Factory func(i int) *Task

func NewTask(campaignID, target string, payload map[string]any) *Task {
	return &Task{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		Target:     target,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func Success(taskID, res string, calls int, d time.Duration) Result {
	return Result{TaskID: taskID, Outcome: OutcomeSuccess, Calls: calls, Resource: res, Duration: d}
}

func Failure(taskID, reason string, calls int, d time.Duration) Result {
	return Result{TaskID: taskID, Outcome: OutcomeFailure, Reason: reason, Calls: calls, Duration: d}
}

func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}
