package cert

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-sso-broker/pages"
	"github.com/jrsteele09/go-sso-broker/trust"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookVerifier asks a page whether it accepts a certificate for a username.
// Any error is a rejection.
type WebhookVerifier interface {
	Verify(ctx context.Context, hook *pages.Webhook, cert *x509.Certificate, username string) (bool, error)
}

type HTTPWebhookVerifier struct {
	client *http.Client
}

func NewHTTPWebhookVerifier(client *http.Client) *HTTPWebhookVerifier {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPWebhookVerifier{client: client}
}

type webhookRequest struct {
	Certificate string `json:"certificate"`
	Username    string `json:"username"`
}

// Verify POSTs {certificate, username}. The body must contain SuccessContains, or
// match SuccessRegex, or, with neither set, the status must be 2xx.
func (v *HTTPWebhookVerifier) Verify(ctx context.Context, hook *pages.Webhook, cert *x509.Certificate, username string) (bool, error) {
	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(webhookRequest{
		Certificate: string(trust.EncodeCertificatePEM(cert)),
		Username:    username,
	})
	if err != nil {
		return false, errors.Wrap(err, "[HTTPWebhookVerifier.Verify] marshal")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return false, errors.Wrap(err, "[HTTPWebhookVerifier.Verify] request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "[HTTPWebhookVerifier.Verify] post")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, errors.Wrap(err, "[HTTPWebhookVerifier.Verify] read body")
	}

	switch {
	case hook.SuccessContains != "":
		return strings.Contains(string(body), hook.SuccessContains), nil
	case hook.SuccessRegex != "":
		re, err := regexp.Compile(hook.SuccessRegex)
		if err != nil {
			return false, errors.Wrap(err, "[HTTPWebhookVerifier.Verify] success_regex")
		}
		return re.Match(body), nil
	default:
		return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
	}
}
