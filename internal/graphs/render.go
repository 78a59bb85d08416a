// Package graphs turns play history into PNG chart artifacts. Each graph
// type is a pure function of the dataset and the render options; callers
// decide where artifacts go and how failures are absorbed.
package graphs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/fileutil"
	"github.com/chartd-org/chartd/internal/stringutil"
)

const (
	defaultWidth  = 1200
	defaultHeight = 600
	topN          = 10
)

// Options are the render settings, decoupled from the config package so
// tests and the per-user path can build them directly.
type Options struct {
	Width  int
	Height int

	TVColor    string
	MovieColor string
	Palettes   map[core.GraphType]string

	MediaTypeSeparation bool
	CensorUsernames     bool
}

type Renderer struct {
	opts Options
}

func New(opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = defaultHeight
	}
	return &Renderer{opts: opts}
}

// Render draws one graph into dir and returns the artifact path. Partial
// output is removed on failure.
func (r *Renderer) Render(gt core.GraphType, ds *Dataset, dir string) (string, error) {
	if err := fileutil.EnsureDir(dir); err != nil {
		return "", &core.RenderError{Graph: string(gt), Err: err}
	}
	path := filepath.Join(dir, string(gt)+".png")

	var err error
	switch gt {
	case core.GraphDailyPlayCount:
		err = r.renderDaily(ds, path)
	case core.GraphPlaysByDayOfWeek:
		err = r.renderByDayOfWeek(ds, path)
	case core.GraphPlaysByHourOfDay:
		err = r.renderByHourOfDay(ds, path)
	case core.GraphPlaysByMonth:
		err = r.renderByMonth(ds, path)
	case core.GraphTopPlatforms:
		err = r.renderTopPlatforms(ds, path)
	case core.GraphTopUsers:
		err = r.renderTopUsers(ds, path)
	default:
		err = fmt.Errorf("unknown graph type %q", gt)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", &core.RenderError{Graph: string(gt), Err: err}
	}
	return path, nil
}

// namedSeries is one drawn series of a categorical chart.
type namedSeries struct {
	name   string
	color  drawing.Color
	values []float64
}

func (r *Renderer) renderDaily(ds *Dataset, path string) error {
	colors := r.opts.EffectiveColors(core.GraphDailyPlayCount)

	var series []chart.Series
	addLine := func(name string, color drawing.Color, filter seriesFilter) error {
		xs, ys := ds.dailyCounts(filter)
		if len(xs) < 2 {
			return fmt.Errorf("need at least two days of range, have %d", len(xs))
		}
		series = append(series, chart.TimeSeries{
			Name:    name,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: color,
				StrokeWidth: 2.0,
			},
		})
		return nil
	}

	if r.opts.MediaTypeSeparation {
		if err := addLine("TV", colors.TV, mediaIs("tv")); err != nil {
			return err
		}
		if err := addLine("Movies", colors.Movie, mediaIs("movie")); err != nil {
			return err
		}
	} else {
		if err := addLine("Plays", colors.Primary(), anyMedia); err != nil {
			return err
		}
	}

	graph := chart.Chart{
		Title:  "Daily Play Count",
		Width:  r.opts.Width,
		Height: r.opts.Height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("Jan 02"),
		},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: maxY(series)},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return writePNG(path, func(f *os.File) error {
		return graph.Render(chart.PNG, f)
	})
}

func (r *Renderer) renderByDayOfWeek(ds *Dataset, path string) error {
	labels := []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	return r.renderCategorical(core.GraphPlaysByDayOfWeek, "Plays by Day of Week", labels, ds.byDayOfWeek, path)
}

func (r *Renderer) renderByHourOfDay(ds *Dataset, path string) error {
	labels := make([]string, 24)
	for h := range labels {
		labels[h] = fmt.Sprintf("%02d", h)
	}
	return r.renderCategorical(core.GraphPlaysByHourOfDay, "Plays by Hour of Day", labels, ds.byHourOfDay, path)
}

// renderCategorical draws a fixed-category bar chart, split by media type
// when separation is on.
func (r *Renderer) renderCategorical(gt core.GraphType, title string, labels []string, counts func(seriesFilter) []float64, path string) error {
	colors := r.opts.EffectiveColors(gt)

	var series []namedSeries
	if r.opts.MediaTypeSeparation {
		series = []namedSeries{
			{name: "TV", color: colors.TV, values: counts(mediaIs("tv"))},
			{name: "Movies", color: colors.Movie, values: counts(mediaIs("movie"))},
		}
	} else {
		series = []namedSeries{{name: "Plays", color: colors.Primary(), values: counts(anyMedia)}}
	}
	return r.barChart(title, labels, series, path)
}

func (r *Renderer) renderByMonth(ds *Dataset, path string) error {
	if len(ds.Monthly.Categories) == 0 {
		return fmt.Errorf("no monthly data")
	}
	colors := r.opts.EffectiveColors(core.GraphPlaysByMonth)

	var series []namedSeries
	if r.opts.MediaTypeSeparation {
		for i, s := range ds.Monthly.Series {
			color := colors.Series[i%len(colors.Series)]
			switch strings.ToLower(s.Name) {
			case "tv", "tv series", "series":
				color = colors.TV
			case "movies", "movie":
				color = colors.Movie
			}
			series = append(series, namedSeries{name: s.Name, color: color, values: padTo(s.Data, len(ds.Monthly.Categories))})
		}
	} else {
		total := make([]float64, len(ds.Monthly.Categories))
		for _, s := range ds.Monthly.Series {
			for i, v := range padTo(s.Data, len(total)) {
				total[i] += v
			}
		}
		series = []namedSeries{{name: "Plays", color: colors.Primary(), values: total}}
	}
	return r.barChart("Plays by Month", ds.Monthly.Categories, series, path)
}

func (r *Renderer) renderTopPlatforms(ds *Dataset, path string) error {
	entries := ds.topPlatforms(topN)
	if len(entries) == 0 {
		return fmt.Errorf("no platform data")
	}
	return r.rankedBarChart(core.GraphTopPlatforms, "Top Platforms", entries, path)
}

func (r *Renderer) renderTopUsers(ds *Dataset, path string) error {
	entries := ds.topUsers(topN)
	if len(entries) == 0 {
		return fmt.Errorf("no user data")
	}
	if r.opts.CensorUsernames {
		for i := range entries {
			entries[i].Label = stringutil.CensorName(entries[i].Label)
		}
	}
	return r.rankedBarChart(core.GraphTopUsers, "Top Users", entries, path)
}

func (r *Renderer) rankedBarChart(gt core.GraphType, title string, entries []rankedEntry, path string) error {
	colors := r.opts.EffectiveColors(gt)

	bars := make([]chart.Value, 0, len(entries))
	maxVal := 1.0
	for i, e := range entries {
		if e.Count > maxVal {
			maxVal = e.Count
		}
		bars = append(bars, chart.Value{
			Value: e.Count,
			Label: e.Label,
			Style: chart.Style{FillColor: colors.Series[i%len(colors.Series)]},
		})
	}

	graph := chart.BarChart{
		Title:    title,
		Width:    r.opts.Width,
		Height:   r.opts.Height,
		BarWidth: barWidth(r.opts.Width, len(bars)),
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: maxVal},
		},
		Bars: bars,
	}
	return writePNG(path, func(f *os.File) error {
		return graph.Render(chart.PNG, f)
	})
}

// barChart draws grouped bars: one bar per series per category.
func (r *Renderer) barChart(title string, labels []string, series []namedSeries, path string) error {
	maxVal := 1.0
	var bars []chart.Value
	for i, label := range labels {
		for j, s := range series {
			v := 0.0
			if i < len(s.values) {
				v = s.values[i]
			}
			if v > maxVal {
				maxVal = v
			}
			barLabel := ""
			if j == 0 {
				barLabel = label
			}
			bars = append(bars, chart.Value{Value: v, Label: barLabel, Style: chart.Style{FillColor: s.color}})
		}
	}

	graph := chart.BarChart{
		Title:    title,
		Width:    r.opts.Width,
		Height:   r.opts.Height,
		BarWidth: barWidth(r.opts.Width, len(bars)),
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: maxVal},
		},
		Bars: bars,
	}
	return writePNG(path, func(f *os.File) error {
		return graph.Render(chart.PNG, f)
	})
}

// writePNG opens path, hands the file to render, and closes it on every
// path so the artifact is complete before callers see it.
func writePNG(path string, render func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func barWidth(chartWidth, bars int) int {
	if bars == 0 {
		return 10
	}
	w := chartWidth / (bars * 2)
	if w < 4 {
		w = 4
	}
	if w > 80 {
		w = 80
	}
	return w
}

func maxY(series []chart.Series) float64 {
	maxVal := 1.0
	for _, s := range series {
		if ts, ok := s.(chart.TimeSeries); ok {
			for _, v := range ts.YValues {
				if v > maxVal {
					maxVal = v
				}
			}
		}
	}
	return maxVal
}

func padTo(values []float64, n int) []float64 {
	if len(values) >= n {
		return values[:n]
	}
	out := make([]float64, n)
	copy(out, values)
	return out
}

// DayDir returns the dated artifact directory for a scheduled run.
func DayDir(baseDir string, day time.Time) string {
	return filepath.Join(baseDir, day.Format("2006-01-02"))
}

// UserDir returns the per-user artifact directory for a my_stats request.
func UserDir(baseDir, userID string) string {
	return filepath.Join(baseDir, "users", fileutil.SafeName(userID))
}
