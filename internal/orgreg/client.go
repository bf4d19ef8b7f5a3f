// Package orgreg resolves tenant organization numbers to display names
// against the public unit registry. Lookups are cached; the registry is
// slow and names change rarely.
package orgreg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/varsling/notification-platform/pkg/logger"
)

type Config struct {
	BaseURL  string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
	cache   *cache.Cache
	logger  *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		cache:   cache.New(cfg.CacheTTL, 10*time.Minute),
		logger:  log.WithComponent("orgreg"),
	}
}

type unitResponse struct {
	Name string `json:"navn"`
}

// OrgName resolves an organization number to its registered name. A
// registry miss is not an error: callers fall back to the raw number.
func (c *Client) OrgName(ctx context.Context, orgNumber string) (string, error) {
	if name, ok := c.cache.Get(orgNumber); ok {
		return name.(string), nil
	}

	url := fmt.Sprintf("%s/enheter/%s", c.baseURL, orgNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build registry request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry lookup for %s: %w", orgNumber, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registry lookup for %s: status %d", orgNumber, resp.StatusCode)
	}

	var unit unitResponse
	if err := json.NewDecoder(resp.Body).Decode(&unit); err != nil {
		return "", fmt.Errorf("decode registry response for %s: %w", orgNumber, err)
	}

	c.cache.Set(orgNumber, unit.Name, cache.DefaultExpiration)
	return unit.Name, nil
}

// Warm pre-resolves a batch of organization numbers. Failures are logged
// and skipped; the cache simply stays cold for those entries.
func (c *Client) Warm(ctx context.Context, orgNumbers []string) {
	for _, orgNumber := range orgNumbers {
		if _, err := c.OrgName(ctx, orgNumber); err != nil {
			c.logger.Warn("cache warm lookup failed", "org_number", orgNumber, "error", err.Error())
		}
	}
}
