// Package update checks a hosted application index for a newer release.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Version is the running release, overridable at link time.
var Version = "1.0"

const (
	// DefaultIndexURL is the hosted application index.
	DefaultIndexURL = "https://raw.githubusercontent.com/nifad2005/BOT-App-Store/main/apps.json"
	// DefaultDownloadURL is where a newer release can be fetched.
	DefaultDownloadURL = "https://bot-holdings-bangladesh.vercel.app/apps/bjm"

	appSlug      = "bjm"
	fetchTimeout = 15 * time.Second
)

// Release describes an available newer release.
type Release struct {
	Version     string
	DownloadURL string
	Name        string
	Description string
	UpdatedAt   string
	FileSize    string
}

type indexEntry struct {
	Slug        string `json:"slug"`
	Version     string `json:"version"`
	Name        string `json:"name"`
	Description string `json:"description"`
	UpdatedAt   string `json:"updated_at"`
	FileSize    string `json:"file_size"`
}

// Checker fetches and evaluates the application index.
type Checker struct {
	client   *http.Client
	indexURL string
	logger   *zap.Logger
}

// NewChecker creates a checker against the default index.
func NewChecker(logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		client:   &http.Client{Timeout: fetchTimeout},
		indexURL: DefaultIndexURL,
		logger:   logger,
	}
}

// Check fetches the index and returns the newer release, or nil when
// the running version is current or the app entry is missing.
func (c *Checker) Check(ctx context.Context) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.indexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build index request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch index: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	var entries []indexEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}

	for _, e := range entries {
		if e.Slug != appSlug {
			continue
		}
		if !isNewer(e.Version, Version) {
			c.logger.Debug("running release is current", zap.String("version", Version))
			return nil, nil
		}
		return &Release{
			Version:     e.Version,
			DownloadURL: DefaultDownloadURL,
			Name:        e.Name,
			Description: e.Description,
			UpdatedAt:   e.UpdatedAt,
			FileSize:    e.FileSize,
		}, nil
	}
	return nil, nil
}

// isNewer compares dotted numeric versions segment by segment, treating
// missing and non-numeric segments as zero.
func isNewer(latest, current string) bool {
	lp := numericParts(latest)
	cp := numericParts(current)
	n := len(lp)
	if len(cp) > n {
		n = len(cp)
	}
	for i := 0; i < n; i++ {
		l, c := 0, 0
		if i < len(lp) {
			l = lp[i]
		}
		if i < len(cp) {
			c = cp[i]
		}
		if l != c {
			return l > c
		}
	}
	return false
}

func numericParts(v string) []int {
	var out []int
	for _, part := range strings.Split(v, ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
