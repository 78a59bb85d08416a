package tautulli

import "time"

// MediaType is the normalised media classification. Tautulli reports
// per-item types (episode, track, clip and so on); we bucket them.
type MediaType string

const (
	MediaMovie MediaType = "movie"
	MediaTV    MediaType = "tv"
	MediaMusic MediaType = "music"
	MediaOther MediaType = "other"
)

// normalizeMediaType maps Tautulli's media_type values onto our buckets.
func normalizeMediaType(raw string) MediaType {
	switch raw {
	case "movie":
		return MediaMovie
	case "episode", "show", "season":
		return MediaTV
	case "track", "album", "artist":
		return MediaMusic
	default:
		return MediaOther
	}
}

// Play is one playback history record.
type Play struct {
	Time      time.Time
	User      string
	UserID    int
	MediaType MediaType
	Platform  string
	Duration  time.Duration
}

// User is one analytics-server account.
type User struct {
	ID           int
	Username     string
	FriendlyName string
	Email        string
}

// MonthlySeries is one named series of monthly totals.
type MonthlySeries struct {
	Name string
	Data []float64
}

// MonthlyPlays is the get_plays_per_month dataset: one category label per
// month with parallel series per media type.
type MonthlyPlays struct {
	Categories []string
	Series     []MonthlySeries
}
