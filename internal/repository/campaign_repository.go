// Package repository defines campaign history persistence.
package repository

import (
	"context"

	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/repository/models"
)

type CampaignRepository interface {
	SaveRun(ctx context.Context, s campaign.Status) error
	RecordBatch(ctx context.Context, b campaign.BatchRecord) error
	GetRun(ctx context.Context, campaignID string) (*models.CampaignRun, error)
	GetRecentRuns(ctx context.Context, limit int) ([]models.CampaignRun, error)
	GetRunsByTarget(ctx context.Context, target string, limit int) ([]models.CampaignRun, error)
	GetBatches(ctx context.Context, campaignID string) ([]models.BatchHistory, error)
	GetCampaignStats(ctx context.Context, hours int) ([]models.CampaignStats, error)
	Close() error
}

var _ campaign.History = (CampaignRepository)(nil)
