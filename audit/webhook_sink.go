package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/pkg/errors"

	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

// WebhookSinkConfig describes one relying party's telemetry endpoint.
type WebhookSinkConfig struct {
	Name string
	URL  string
	// Projection is an optional JMESPath expression applied to the JSON event.
	Projection string
	// Page restricts the sink to entries for that page; Objects restricts by object.
	Page    string
	Objects []Object
}

// WebhookSink POSTs JSON events to an HTTP endpoint.
type WebhookSink struct {
	cfg        WebhookSinkConfig
	projection string
	client     *http.Client
}

func NewWebhookSink(cfg WebhookSinkConfig, client *http.Client) (*WebhookSink, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.Errorf("[audit.NewWebhookSink] %s: url is required", cfg.Name)
	}
	if client == nil {
		client = http.DefaultClient
	}
	s := &WebhookSink{cfg: cfg, client: client}
	if expr := strings.TrimSpace(cfg.Projection); expr != "" {
		if _, err := jmespath.Compile(expr); err != nil {
			return nil, errors.Wrapf(err, "[audit.NewWebhookSink] %s: invalid projection", cfg.Name)
		}
		s.projection = expr
	}
	return s, nil
}

func (s *WebhookSink) Name() string { return s.cfg.Name }

func (s *WebhookSink) Accepts(entry *Entry) bool {
	if s.cfg.Page != "" && entry.Page != s.cfg.Page {
		return false
	}
	return len(s.cfg.Objects) == 0 || slices.Contains(s.cfg.Objects, entry.Object)
}

func (s *WebhookSink) Send(ctx context.Context, entry *Entry) error {
	payload := map[string]any{
		"type":      "event",
		"id":        entry.ID,
		"user":      entry.UserID,
		"ip":        entry.IP,
		"country":   entry.Country,
		"object":    string(entry.Object),
		"action":    string(entry.Action),
		"attribute": entry.Attribute,
		"page":      entry.Page,
		"created":   entry.Created.Format("2006-01-02T15:04:05Z07:00"),
	}
	var body any = payload
	if s.projection != "" {
		projected, err := jmespath.Search(s.projection, payload)
		if err != nil {
			return errors.Wrapf(err, "[WebhookSink.Send] %s: projection", s.cfg.Name)
		}
		body = projected
	}
	return s.post(ctx, body)
}

func (s *WebhookSink) Heartbeat(ctx context.Context) error {
	return s.post(ctx, map[string]string{"type": "heartbeat", "sink": s.cfg.Name})
}

func (s *WebhookSink) post(ctx context.Context, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "[WebhookSink.post] marshal")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(err, "[WebhookSink.post] request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.Upstream("Telemetry sink unavailable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.Upstream("Telemetry sink unavailable", errors.Errorf("%s returned %d", s.cfg.Name, resp.StatusCode))
	}
	return nil
}
