// Package updates polls a release endpoint and logs when a newer version is
// available. The check is informational only and never interrupts service.
package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single version check.
const DefaultTimeout = 10 * time.Second

type release struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

// Checker compares the running version against the latest published release.
type Checker struct {
	endpoint string
	current  string
	client   *http.Client
	log      zerolog.Logger

	mu     sync.RWMutex
	latest string
}

func NewChecker(endpoint, current string, log zerolog.Logger) *Checker {
	return &Checker{
		endpoint: endpoint,
		current:  current,
		client:   &http.Client{Timeout: DefaultTimeout},
		log:      log.With().Str("component", "updates").Logger(),
	}
}

// Check fetches the latest release and logs if it differs from the running
// version. Suitable as a background task.
func (c *Checker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("release endpoint returned status %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return fmt.Errorf("decode release info: %w", err)
	}
	if rel.Version == "" {
		return fmt.Errorf("release info missing version")
	}

	c.mu.Lock()
	c.latest = rel.Version
	c.mu.Unlock()

	if newer(c.current, rel.Version) {
		c.log.Info().
			Str("current", c.current).
			Str("latest", rel.Version).
			Str("url", rel.URL).
			Msg("newer version available")
	}
	return nil
}

// Latest returns the most recently seen published version, empty before the
// first successful check.
func (c *Checker) Latest() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// newer reports whether latest is a different release than current. Dev
// builds never report as outdated.
func newer(current, latest string) bool {
	current = strings.TrimPrefix(current, "v")
	latest = strings.TrimPrefix(latest, "v")
	if current == "" || current == "dev" {
		return false
	}
	return current != latest
}
