package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goodtune/kidswatch/internal/metrics"
	"github.com/goodtune/kidswatch/internal/policy"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultEndpoint is the EmailJS send API
	DefaultEndpoint = "https://api.emailjs.com/api/v1.0/email/send"

	// DefaultTimeout bounds a single EmailJS request
	DefaultTimeout = 15 * time.Second

	maxErrorBody = 4 << 10
)

// Config holds the relay settings that do not live in the store.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	// Fallback is used when the store holds no EmailJS identifiers.
	Fallback storage.EmailConfig
}

// Client sends reports through the EmailJS relay API.
type Client struct {
	settings   storage.SettingsStore
	httpClient *http.Client
	endpoint   string
	fallback   storage.EmailConfig
	clock      policy.Clock
	logger     zerolog.Logger
}

type sendRequest struct {
	ServiceID      string         `json:"service_id"`
	TemplateID     string         `json:"template_id"`
	UserID         string         `json:"user_id"`
	TemplateParams map[string]any `json:"template_params"`
}

// NewClient creates a new EmailJS client
func NewClient(settings storage.SettingsStore, config Config, logger zerolog.Logger) *Client {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	return &Client{
		settings:   settings,
		httpClient: &http.Client{Timeout: config.Timeout},
		endpoint:   config.Endpoint,
		fallback:   config.Fallback,
		clock:      policy.RealClock{},
		logger:     logger.With().Str("component", "email").Logger(),
	}
}

// SetClock sets the clock used to date test emails (for testing)
func (c *Client) SetClock(clock policy.Clock) {
	c.clock = clock
}

// ResolveConfig returns the EmailJS identifiers saved from the popup, or the
// configured fallback. It returns nil when neither is available.
func (c *Client) ResolveConfig(ctx context.Context) (*storage.EmailConfig, error) {
	stored, err := c.settings.GetEmailConfig(ctx)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read email configuration: %w", err)
	}

	if c.fallback == (storage.EmailConfig{}) {
		return nil, nil
	}
	fallback := c.fallback
	return &fallback, nil
}

// Validate checks the resolved configuration.
func (c *Client) Validate(ctx context.Context) error {
	cfg, err := c.ResolveConfig(ctx)
	if err != nil {
		return err
	}
	return ValidateConfig(cfg)
}

// SendReport emails report to recipient. It makes exactly one attempt.
func (c *Client) SendReport(ctx context.Context, report storage.ReportRecord, recipient string) error {
	cfg, err := c.ResolveConfig(ctx)
	if err != nil {
		return err
	}
	if cfg == nil || !complete(*cfg) {
		return ErrNotConfigured
	}
	return c.send(ctx, "report", *cfg, TemplateParams(report, recipient))
}

// SendTest validates the configuration and sends a sample report dated today.
func (c *Client) SendTest(ctx context.Context, recipient string) error {
	cfg, err := c.ResolveConfig(ctx)
	if err != nil {
		return err
	}
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	return c.send(ctx, "test", *cfg, TemplateParams(SampleReport(storage.DateOf(c.clock.Now())), recipient))
}

// SampleReport is the fixed report sent by test emails.
func SampleReport(date string) storage.ReportRecord {
	sites := []storage.SiteSummary{
		{Domain: "khanacademy.org", TimeMinutes: 20, Visits: 3},
		{Domain: "scratch.mit.edu", TimeMinutes: 15, Visits: 2},
		{Domain: "docs.google.com", TimeMinutes: 10, Visits: 1},
	}
	return storage.ReportRecord{
		Date:             date,
		TotalTimeMinutes: 45,
		Sites:            sites,
		TopSites:         sites,
	}
}

func (c *Client) send(ctx context.Context, kind string, cfg storage.EmailConfig, params map[string]any) error {
	body, err := json.Marshal(sendRequest{
		ServiceID:      cfg.ServiceID,
		TemplateID:     cfg.TemplateID,
		UserID:         cfg.PublicKey,
		TemplateParams: params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug().
		Str("kind", kind).
		Str("service_id", cfg.ServiceID).
		Str("template_id", cfg.TemplateID).
		Msg("Sending email through EmailJS")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.EmailRequestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EmailRequestsTotal.WithLabelValues(kind, "transport_error").Inc()
		return fmt.Errorf("email request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		metrics.EmailRequestsTotal.WithLabelValues(kind, "api_error").Inc()
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	metrics.EmailRequestsTotal.WithLabelValues(kind, "sent").Inc()
	c.logger.Info().Str("kind", kind).Msg("Email sent")
	return nil
}
