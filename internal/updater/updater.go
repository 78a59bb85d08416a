// Package updater orchestrates one stats update: fetch history, render
// the enabled graphs, validate the artifacts and post them to the chat
// channel. The scheduler and the manual slash-command path both come
// through Run, serialised by an internal mutex.
package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/config"
	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/fileutil"
	"github.com/chartd-org/chartd/internal/graphs"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
	"github.com/chartd-org/chartd/internal/tautulli"
)

// allowedSuffixes is the attachment whitelist enforced before posting.
var allowedSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// Artifact is one validated rendered file.
type Artifact struct {
	Type core.GraphType
	Path string
	Size int64
}

// PostInfo accompanies a batch of posted graphs.
type PostInfo struct {
	NextUpdate time.Time
	LastUpdate time.Time
	RunID      string
}

// Fetcher pulls play statistics from the analytics server.
type Fetcher interface {
	History(ctx context.Context, days int) ([]tautulli.Play, error)
	HistoryForUser(ctx context.Context, days, userID int) ([]tautulli.Play, error)
	PlaysPerMonth(ctx context.Context, months int) (tautulli.MonthlyPlays, error)
}

// Poster publishes artifacts to the chat channel.
type Poster interface {
	PostGraphs(ctx context.Context, artifacts []Artifact, info PostInfo) error
}

// ScheduleInfo supplies the update stamps shown in the posted embed.
type ScheduleInfo interface {
	NextUpdateTime() time.Time
	LastUpdateTime() time.Time
}

// Observer receives run and render outcomes, for metrics.
type Observer interface {
	UpdateRun(result string)
	GraphRendered(result string)
}

type nopObserver struct{}

func (nopObserver) UpdateRun(string)     {}
func (nopObserver) GraphRendered(string) {}

// Orchestrator runs the update pipeline.
type Orchestrator struct {
	mu       sync.Mutex
	snapshot func() *config.Config
	fetcher  Fetcher
	poster   Poster
	schedule ScheduleInfo
	observer Observer
	clock    clock.Clock
}

func New(snapshot func() *config.Config, fetcher Fetcher, poster Poster, schedule ScheduleInfo, clk clock.Clock) *Orchestrator {
	return &Orchestrator{
		snapshot: snapshot,
		fetcher:  fetcher,
		poster:   poster,
		schedule: schedule,
		observer: nopObserver{},
		clock:    clk,
	}
}

// SetObserver wires metrics callbacks. Call before Start.
func (o *Orchestrator) SetObserver(obs Observer) {
	if obs != nil {
		o.observer = obs
	}
}

// Run executes one full update. Concurrent calls queue behind the mutex
// so a manual update never interleaves with a scheduled one.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	runID := newRunID()
	ctx = logger.WithValues(ctx, tag.RunID(runID))
	log := logger.FromContext(ctx)
	cfg := o.snapshot()
	now := o.clock.Now()

	log.Info("update run starting")
	err := o.run(ctx, cfg, now, runID)
	if err != nil {
		o.observer.UpdateRun("failure")
		log.Error("update run failed", tag.Error(err))
		return err
	}
	o.observer.UpdateRun("success")
	log.Info("update run completed", tag.Took(o.clock.Now().Sub(now)))
	return nil
}

func (o *Orchestrator) run(ctx context.Context, cfg *config.Config, now time.Time, runID string) error {
	enabled := cfg.Graphs.EnabledTypes()
	if len(enabled) == 0 {
		return core.NewUploadError("no graph types enabled", core.KindPermanent)
	}

	ds, err := o.fetch(ctx, cfg, enabled, now)
	if err != nil {
		return err
	}

	dir := graphs.DayDir(cfg.Paths.GraphsDir, now)
	rendered := o.render(ctx, cfg, enabled, ds, dir)

	artifacts := o.validate(ctx, rendered, cfg.UploadLimit())
	if len(artifacts) == 0 {
		return core.NewUploadError("no valid artifacts to post", core.KindPermanent)
	}

	info := PostInfo{
		NextUpdate: o.schedule.NextUpdateTime(),
		LastUpdate: o.schedule.LastUpdateTime(),
		RunID:      runID,
	}
	if err := o.poster.PostGraphs(ctx, artifacts, info); err != nil {
		return err
	}

	o.cleanup(ctx, cfg, now)
	return nil
}

func (o *Orchestrator) fetch(ctx context.Context, cfg *config.Config, enabled []core.GraphType, now time.Time) (*graphs.Dataset, error) {
	plays, err := o.fetcher.History(ctx, cfg.Data.TimeRangeDays)
	if err != nil {
		return nil, err
	}

	ds := &graphs.Dataset{
		Plays:         plays,
		Now:           now,
		TimeRangeDays: cfg.Data.TimeRangeDays,
	}
	for _, gt := range enabled {
		if gt == core.GraphPlaysByMonth {
			monthly, err := o.fetcher.PlaysPerMonth(ctx, cfg.Data.TimeRangeMonths)
			if err != nil {
				return nil, err
			}
			ds.Monthly = monthly
			break
		}
	}
	return ds, nil
}

// render draws each enabled graph; one failed graph is logged and skipped
// so a single bad renderer cannot starve the rest of the post.
func (o *Orchestrator) render(ctx context.Context, cfg *config.Config, enabled []core.GraphType, ds *graphs.Dataset, dir string) []Artifact {
	log := logger.FromContext(ctx)
	renderer := graphs.New(rendererOptions(cfg))

	var out []Artifact
	for _, gt := range enabled {
		path, err := renderer.Render(gt, ds, dir)
		if err != nil {
			o.observer.GraphRendered("failure")
			log.Warn("graph render failed, skipping",
				tag.Graph(string(gt)), tag.Error(err))
			continue
		}
		o.observer.GraphRendered("success")
		out = append(out, Artifact{Type: gt, Path: path})
	}
	return out
}

// validate drops artifacts that cannot be uploaded: missing, empty, above
// the size limit or with a suffix the chat service will not inline.
func (o *Orchestrator) validate(ctx context.Context, artifacts []Artifact, limit int64) []Artifact {
	log := logger.FromContext(ctx)

	var valid []Artifact
	for _, a := range artifacts {
		if err := checkArtifact(a.Path, limit); err != nil {
			log.Warn("artifact rejected", tag.Path(a.Path), tag.Error(err))
			continue
		}
		info, err := os.Stat(a.Path)
		if err != nil {
			continue
		}
		a.Size = info.Size()
		valid = append(valid, a)
	}
	return valid
}

func checkArtifact(path string, limit int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("missing: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("is a directory")
	}
	if info.Size() == 0 {
		return fmt.Errorf("empty file")
	}
	if info.Size() > limit {
		return fmt.Errorf("size %d exceeds limit %d", info.Size(), limit)
	}
	suffix := strings.ToLower(filepath.Ext(path))
	for _, allowed := range allowedSuffixes {
		if suffix == allowed {
			return nil
		}
	}
	return fmt.Errorf("suffix %q not allowed", suffix)
}

func (o *Orchestrator) cleanup(ctx context.Context, cfg *config.Config, now time.Time) {
	log := logger.FromContext(ctx)
	cutoff := now.AddDate(0, 0, -cfg.Retention.KeepDays)
	removed, err := fileutil.PruneOlderThan(cfg.Paths.GraphsDir, cutoff)
	if err != nil {
		log.Warn("artifact cleanup failed", tag.Error(err))
		return
	}
	if removed > 0 {
		log.Info("pruned old artifacts", tag.Count(removed))
	}
}

// RunUserGraphs renders the per-user graph subset into a temp directory
// under the artifacts tree. The caller sends them and then removes the
// directory.
func (o *Orchestrator) RunUserGraphs(ctx context.Context, userID int) ([]Artifact, string, error) {
	cfg := o.snapshot()
	now := o.clock.Now()
	log := logger.FromContext(ctx)

	plays, err := o.fetcher.HistoryForUser(ctx, cfg.Data.TimeRangeDays, userID)
	if err != nil {
		return nil, "", err
	}
	if len(plays) == 0 {
		return nil, "", core.NewUploadError("no plays recorded for user", core.KindPermanent)
	}

	ds := &graphs.Dataset{
		Plays:         plays,
		Now:           now,
		TimeRangeDays: cfg.Data.TimeRangeDays,
	}

	dir := graphs.UserDir(cfg.Paths.GraphsDir, fmt.Sprintf("%d", userID))
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, "", err
	}

	renderer := graphs.New(rendererOptions(cfg))
	var out []Artifact
	for _, gt := range core.PerUserGraphTypes() {
		if !cfg.Graphs.Enabled[gt] {
			continue
		}
		path, err := renderer.Render(gt, ds, dir)
		if err != nil {
			log.Warn("user graph render failed, skipping",
				tag.Graph(string(gt)), tag.Error(err))
			continue
		}
		out = append(out, Artifact{Type: gt, Path: path})
	}

	valid := o.validate(ctx, out, cfg.UploadLimit())
	if len(valid) == 0 {
		_ = os.RemoveAll(dir)
		return nil, "", core.NewUploadError("no valid user graphs rendered", core.KindPermanent)
	}
	return valid, dir, nil
}

func rendererOptions(cfg *config.Config) graphs.Options {
	return graphs.Options{
		Width:               cfg.Graphs.Width,
		Height:              cfg.Graphs.Height,
		TVColor:             cfg.Graphs.Colors.TV,
		MovieColor:          cfg.Graphs.Colors.Movie,
		Palettes:            cfg.Graphs.Palettes,
		MediaTypeSeparation: cfg.Graphs.MediaTypeSeparation,
		CensorUsernames:     cfg.Graphs.CensorUsernames,
	}
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
