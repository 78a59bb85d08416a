// Package clock centralises time access. Every component reads "now"
// through a Clock so tests can inject a fake, and every user-facing
// timestamp is rendered through Stamp so chat messages carry Discord
// timestamp tokens instead of pre-formatted strings.
package clock

import (
	"fmt"
	"time"
)

// Clock supplies the current instant in the system zone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type systemClock struct {
	loc *time.Location
}

// System returns a Clock backed by the OS clock, reporting times in loc.
// A nil loc falls back to time.Local.
func System(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return &systemClock{loc: loc}
}

func (c *systemClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c *systemClock) Location() *time.Location { return c.loc }

// EnsureAware normalises t into loc. Zero times pass through unchanged so
// "absent" survives round trips. Go times always carry a location, so this
// is a conversion, not an attachment; parse sites are responsible for using
// ParseInLocation on offset-less inputs.
func EnsureAware(t time.Time, loc *time.Location) time.Time {
	if t.IsZero() {
		return t
	}
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc)
}

// Style selects a Discord timestamp rendering.
type Style rune

const (
	StyleShortTime Style = 't' // 16:20
	StyleLongTime  Style = 'T' // 16:20:30
	StyleShortDate Style = 'd' // 20/04/2021
	StyleLongDate  Style = 'D' // 20 April 2021
	StyleShort     Style = 'f' // 20 April 2021 16:20
	StyleLong      Style = 'F' // Tuesday, 20 April 2021 16:20
	StyleRelative  Style = 'R' // in 2 hours
)

// Valid reports whether s is one of the styles Discord renders.
func (s Style) Valid() bool {
	switch s {
	case StyleShortTime, StyleLongTime, StyleShortDate, StyleLongDate,
		StyleShort, StyleLong, StyleRelative:
		return true
	}
	return false
}

// Stamp renders t as a Discord timestamp token, e.g. <t:1626901680:R>.
// Invalid styles fall back to StyleShort. The token is zone-independent;
// Discord localises it per viewer.
func Stamp(t time.Time, style Style) string {
	if !style.Valid() {
		style = StyleShort
	}
	return fmt.Sprintf("<t:%d:%c>", t.Unix(), style)
}
