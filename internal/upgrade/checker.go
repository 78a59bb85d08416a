// Package upgrade checks GitHub for a newer release and logs a notice.
// The check is best effort and never blocks or fails startup.
package upgrade

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-resty/resty/v2"

	"github.com/chartd-org/chartd/internal/build"
	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/fileutil"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
)

const (
	defaultEndpoint = "https://api.github.com/repos/chartd-org/chartd/releases/latest"
	cacheFileName   = "upgrade-check.json"
	cacheTTL        = 24 * time.Hour
	requestTimeout  = 10 * time.Second
)

// cacheRecord is what we persist between checks so restarts inside the
// TTL window skip the network round trip.
type cacheRecord struct {
	CheckedAt time.Time `json:"checked_at"`
	Latest    string    `json:"latest"`
}

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Checker compares the running version against the latest published
// release.
type Checker struct {
	http      *resty.Client
	clock     clock.Clock
	cachePath string
	version   string
}

type Option func(*Checker)

// WithEndpoint overrides the release API URL.
func WithEndpoint(url string) Option {
	return func(c *Checker) { c.http.SetBaseURL(url) }
}

// WithVersion overrides the version the checker compares against.
func WithVersion(v string) Option {
	return func(c *Checker) { c.version = v }
}

func New(dataDir string, clk clock.Clock, opts ...Option) *Checker {
	httpc := resty.New().
		SetBaseURL(defaultEndpoint).
		SetTimeout(requestTimeout).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("User-Agent", build.Slug+"/"+build.Version)

	c := &Checker{
		http:      httpc,
		clock:     clk,
		cachePath: fmt.Sprintf("%s/%s", dataDir, cacheFileName),
		version:   build.Version,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check logs a notice when a newer release exists. Dev builds and any
// failure along the way are silent no-ops apart from a debug line.
func (c *Checker) Check(ctx context.Context) {
	log := logger.FromContext(ctx)

	current, err := semver.NewVersion(c.version)
	if err != nil {
		log.Debug("update check skipped for non-release build",
			tag.Version(c.version))
		return
	}

	latest, fresh := c.cachedLatest()
	if !fresh {
		latest, err = c.fetchLatest(ctx)
		if err != nil {
			log.Debug("update check failed", tag.Error(err))
			return
		}
		c.writeCache(ctx, latest)
	}

	latestVersion, err := semver.NewVersion(latest)
	if err != nil {
		log.Debug("unparseable release tag", tag.Value(latest))
		return
	}

	if latestVersion.GreaterThan(current) {
		log.Info("a newer release is available",
			tag.Version(latestVersion.String()),
			tag.String("current", current.String()))
	}
}

// cachedLatest returns the stored tag when the cache is within the TTL.
func (c *Checker) cachedLatest() (string, bool) {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return "", false
	}
	var rec cacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", false
	}
	if rec.Latest == "" || c.clock.Now().Sub(rec.CheckedAt) > cacheTTL {
		return "", false
	}
	return rec.Latest, true
}

func (c *Checker) fetchLatest(ctx context.Context) (string, error) {
	var rel release
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&rel).
		Get("")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("release lookup returned %d", resp.StatusCode())
	}
	if rel.TagName == "" {
		return "", fmt.Errorf("release lookup returned no tag")
	}
	return rel.TagName, nil
}

func (c *Checker) writeCache(ctx context.Context, latest string) {
	rec := cacheRecord{CheckedAt: c.clock.Now(), Latest: latest}
	if err := fileutil.WriteJSONAtomic(c.cachePath, rec, 0600); err != nil {
		logger.FromContext(ctx).Debug("could not cache update check",
			tag.Error(err))
	}
}
