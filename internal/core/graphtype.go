package core

// GraphType keys the fixed set of rendered statistics charts. The string
// form appears in configuration keys, artifact file names and metrics
// labels.
type GraphType string

const (
	GraphDailyPlayCount  GraphType = "daily_play_count"
	GraphPlaysByDayOfWeek GraphType = "play_count_by_dayofweek"
	GraphPlaysByHourOfDay GraphType = "play_count_by_hourofday"
	GraphPlaysByMonth    GraphType = "play_count_by_month"
	GraphTopPlatforms    GraphType = "top_10_platforms"
	GraphTopUsers        GraphType = "top_10_users"
)

// GraphTypes returns all graph types in render order.
func GraphTypes() []GraphType {
	return []GraphType{
		GraphDailyPlayCount,
		GraphPlaysByDayOfWeek,
		GraphPlaysByHourOfDay,
		GraphPlaysByMonth,
		GraphTopPlatforms,
		GraphTopUsers,
	}
}

// PerUserGraphTypes returns the subset rendered for a single user's DM:
// everything except the cross-user leaderboard.
func PerUserGraphTypes() []GraphType {
	return []GraphType{
		GraphDailyPlayCount,
		GraphPlaysByDayOfWeek,
		GraphPlaysByHourOfDay,
		GraphPlaysByMonth,
		GraphTopPlatforms,
	}
}

// ValidGraphType reports whether s names a known graph type.
func ValidGraphType(s string) bool {
	for _, g := range GraphTypes() {
		if string(g) == s {
			return true
		}
	}
	return false
}
