package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const userAgent = "docsbuild (+https://docsbuild.dev; doc builder)"

// ReleaseData is the per-release metadata fetched from the registry
// API. A zero value is the defaulted record substituted on a
// transient fetch failure — the build proceeds either way.
type ReleaseData struct {
	ReleaseTime time.Time
	Yanked      bool
	Downloads   int64
}

// Owner is one entry in a crate's owner list.
type Owner struct {
	Login  string `json:"login"`
	Avatar string `json:"avatar"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// CrateData is the per-crate metadata fetched from the registry API.
type CrateData struct {
	Owners []Owner
}

// Client talks to the registry's read-only HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

// NewClient builds a Client against baseURL (e.g.
// "https://example-registry.test/api/v1").
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		log:        log,
	}
}

// ReleaseData fetches (release_time, yanked, downloads) for
// name@version. A transient network or decode error is logged and a
// zero-value ReleaseData is returned instead of an error: per the
// spec, a registry metadata fetch failure must never block a build.
func (c *Client) ReleaseData(ctx context.Context, name, version string) ReleaseData {
	url := fmt.Sprintf("%s/crates/%s/%s", c.baseURL, name, version)
	var body struct {
		Version struct {
			CreatedAt string `json:"created_at"`
			Yanked    bool   `json:"yanked"`
			Downloads int64  `json:"downloads"`
		} `json:"version"`
	}
	if err := c.getJSON(ctx, url, &body); err != nil {
		c.log.Warn().Err(err).Str("crate", name).Str("version", version).
			Msg("release metadata fetch failed, using defaults")
		return ReleaseData{}
	}
	releaseTime, err := time.Parse(time.RFC3339, body.Version.CreatedAt)
	if err != nil {
		releaseTime = time.Time{}
	}
	return ReleaseData{
		ReleaseTime: releaseTime,
		Yanked:      body.Version.Yanked,
		Downloads:   body.Version.Downloads,
	}
}

// CrateData fetches the owner list for name.
func (c *Client) CrateData(ctx context.Context, name string) CrateData {
	url := fmt.Sprintf("%s/crates/%s/owners", c.baseURL, name)
	var body struct {
		Users []Owner `json:"users"`
	}
	if err := c.getJSON(ctx, url, &body); err != nil {
		c.log.Warn().Err(err).Str("crate", name).
			Msg("owner metadata fetch failed, using defaults")
		return CrateData{}
	}
	return CrateData{Owners: body.Users}
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry: %s returned %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
