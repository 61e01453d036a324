// Package notify emails a summary when a campaign reaches a terminal state.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/logger"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

var ErrNotConfigured = errors.New("email notifier not configured")

type Config struct {
	APIKey      string
	FromName    string
	FromAddress string
	To          string
}

func (c Config) Enabled() bool {
	return c.APIKey != "" && c.FromAddress != "" && c.To != ""
}

// sendFunc delivers a message and returns the provider's HTTP status.
type sendFunc func(ctx context.Context, msg *mail.SGMailV3) (int, error)

type EmailNotifier struct {
	cfg  Config
	send sendFunc
}

var _ campaign.Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(cfg Config) (*EmailNotifier, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	client := sendgrid.NewSendClient(cfg.APIKey)
	send := func(ctx context.Context, msg *mail.SGMailV3) (int, error) {
		resp, err := client.SendWithContext(ctx, msg)
		if err != nil {
			return 0, err
		}
		return resp.StatusCode, nil
	}

	return &EmailNotifier{cfg: cfg, send: send}, nil
}

func (n *EmailNotifier) CampaignFinished(ctx context.Context, s campaign.Status) error {
	subject := Subject(s)
	body := Body(s)

	from := mail.NewEmail(n.cfg.FromName, n.cfg.FromAddress)
	to := mail.NewEmail("", n.cfg.To)
	msg := mail.NewSingleEmail(from, subject, to, body, "<pre>"+body+"</pre>")

	status, err := n.send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("sendgrid error: status %d", status)
	}

	logger.WithComponent("notify").Info().
		Str("campaign", s.ID).
		Str("to", n.cfg.To).
		Int("status", status).
		Msg("Campaign summary emailed.")
	return nil
}

func Subject(s campaign.Status) string {
	return fmt.Sprintf("[nexrun] campaign %s on %s %s", shortID(s.ID), s.Target, s.State)
}

func Body(s campaign.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Campaign:     %s\n", s.ID)
	fmt.Fprintf(&b, "Target:       %s\n", s.Target)
	fmt.Fprintf(&b, "State:        %s\n", s.State)
	fmt.Fprintf(&b, "Successes:    %d / %d\n", s.Successes, s.TargetCount)
	fmt.Fprintf(&b, "Failures:     %d\n", s.Failures)
	fmt.Fprintf(&b, "Success rate: %.2f%%\n", s.SuccessRate)
	fmt.Fprintf(&b, "Batches:      %d\n", s.Batches)
	fmt.Fprintf(&b, "Runtime:      %s\n", (time.Duration(s.RuntimeSeconds * float64(time.Second))).Round(time.Second))
	if s.RuntimeSeconds > 0 {
		fmt.Fprintf(&b, "Per hour:     %.1f\n", float64(s.Successes)/(s.RuntimeSeconds/3600))
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "Error:        %s\n", s.Error)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
