package users

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultPwnedRangeURL = "https://api.pwnedpasswords.com/range/"

// PwnedRangeClient queries the k-anonymity range API; only the first five hex
// characters of the SHA-1 leave the process.
type PwnedRangeClient struct {
	baseURL string
	client  *http.Client
}

func NewPwnedRangeClient(baseURL string, timeout time.Duration) *PwnedRangeClient {
	if baseURL == "" {
		baseURL = defaultPwnedRangeURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PwnedRangeClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *PwnedRangeClient) Pwned(ctx context.Context, password string) (bool, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+prefix, nil)
	if err != nil {
		return false, errors.Wrap(err, "create pwned request")
	}
	req.Header.Set("Add-Padding", "true")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "pwned request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, errors.Errorf("pwned range api returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		hashSuffix, count, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(hashSuffix), suffix) && strings.TrimSpace(count) != "0" {
			return true, nil
		}
	}
	return false, errors.Wrap(scanner.Err(), "read pwned response")
}
