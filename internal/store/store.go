// Package store keeps live campaign state in Redis so that the server and
// the runner CLI can see and steer the same campaigns.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/redis/go-redis/v9"
)

const (
	statusKey = "campaigns"
	stopKey   = "campaign_stop"
	queueKey  = "campaign_queue"

	maxTxRetries = 3
)

type Store struct {
	client *redis.Client
}

func NewStore(ctx context.Context, redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) SaveStatus(ctx context.Context, st campaign.Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	return s.client.HSet(ctx, statusKey, st.ID, data).Err()
}

func (s *Store) GetStatus(ctx context.Context, id string) (*campaign.Status, error) {
	data, err := s.client.HGet(ctx, statusKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", campaign.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var st campaign.Status
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &st, nil
}

// ListStatuses skips entries that no longer decode.
func (s *Store) ListStatuses(ctx context.Context) ([]campaign.Status, error) {
	entries, err := s.client.HGetAll(ctx, statusKey).Result()
	if err != nil {
		return nil, err
	}

	statuses := make([]campaign.Status, 0, len(entries))
	for _, data := range entries {
		var st campaign.Status
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			continue
		}
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].StartedAt.Before(statuses[j].StartedAt)
	})

	return statuses, nil
}

func (s *Store) DeleteStatus(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, statusKey, id)
	pipe.SRem(ctx, stopKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

// RequestStop flags a live campaign for stopping. The status is watched so
// a campaign finishing concurrently is never left with a stale request.
func (s *Store) RequestStop(ctx context.Context, id string) error {
	txf := func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, statusKey, id).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", campaign.ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		var st campaign.Status
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return fmt.Errorf("failed to unmarshal status: %w", err)
		}
		if st.State.Terminal() {
			return fmt.Errorf("%w: %s is %s", campaign.ErrFinished, id, st.State)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, stopKey, id)
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, statusKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("failed to request stop for %s: status changed during every attempt", id)
}

func (s *Store) StopRequested(ctx context.Context, id string) (bool, error) {
	return s.client.SIsMember(ctx, stopKey, id).Result()
}

func (s *Store) ClearStop(ctx context.Context, id string) error {
	return s.client.SRem(ctx, stopKey, id).Err()
}

// Submit queues a campaign for whichever server polls next.
func (s *Store) Submit(ctx context.Context, cfg campaign.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign config: %w", err)
	}
	return s.client.RPush(ctx, queueKey, data).Err()
}

// NextSubmission returns nil when nothing is queued.
func (s *Store) NextSubmission(ctx context.Context) (*campaign.Config, error) {
	data, err := s.client.LPop(ctx, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg campaign.Config
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign config: %w", err)
	}
	return &cfg, nil
}

func (s *Store) PendingSubmissions(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, queueKey).Result()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
