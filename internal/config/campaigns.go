package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nadmax/nexrun/internal/campaign"
	"gopkg.in/yaml.v3"
)

// CampaignEntry is one campaign in a YAML campaign file. BaseDelay is in
// seconds.
type CampaignEntry struct {
	Target      string         `yaml:"target"`
	TargetCount int            `yaml:"target_count"`
	BatchSize   int            `yaml:"batch_size"`
	BaseDelay   float64        `yaml:"base_delay"`
	Payload     map[string]any `yaml:"payload,omitempty"`
}

type CampaignFile struct {
	Campaigns []CampaignEntry `yaml:"campaigns"`
}

func (e CampaignEntry) Config() campaign.Config {
	return campaign.Config{
		Target:      e.Target,
		TargetCount: e.TargetCount,
		BatchSize:   e.BatchSize,
		BaseDelay:   time.Duration(e.BaseDelay * float64(time.Second)),
		Payload:     e.Payload,
	}
}

// LoadCampaigns reads a campaign file and returns validated configs with
// defaults applied.
func LoadCampaigns(path string) ([]campaign.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign file: %w", err)
	}
	return ParseCampaigns(data)
}

func ParseCampaigns(data []byte) ([]campaign.Config, error) {
	var file CampaignFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse campaign file: %w", err)
	}
	if len(file.Campaigns) == 0 {
		return nil, errors.New("campaign file lists no campaigns")
	}

	configs := make([]campaign.Config, 0, len(file.Campaigns))
	var errs []error
	for i, entry := range file.Campaigns {
		cfg := entry.Config()
		if err := cfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("campaigns[%d]: %w", i, err))
			continue
		}
		configs = append(configs, cfg.WithDefaults())
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return configs, nil
}
