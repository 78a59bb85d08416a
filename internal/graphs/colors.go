package graphs

import (
	"strings"

	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/chartd-org/chartd/internal/core"
)

// defaultSeriesColor is used when neither a palette nor a media split
// applies.
var defaultSeriesColor = drawing.Color{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}

// palettes are the built-in series colour sets, first colour first.
var palettes = map[string][]drawing.Color{
	"default": {
		parseHex("#1f77b4"), parseHex("#ff7f0e"), parseHex("#2ca02c"),
		parseHex("#d62728"), parseHex("#9467bd"), parseHex("#8c564b"),
	},
	"dark": {
		parseHex("#264653"), parseHex("#2a9d8f"), parseHex("#e76f51"),
		parseHex("#6d597a"), parseHex("#355070"), parseHex("#b56576"),
	},
	"pastel": {
		parseHex("#a8dadc"), parseHex("#f4a5ae"), parseHex("#b8e0d2"),
		parseHex("#ffe5b4"), parseHex("#cdb4db"), parseHex("#ffc8dd"),
	},
	"bright": {
		parseHex("#ff595e"), parseHex("#ffca3a"), parseHex("#8ac926"),
		parseHex("#1982c4"), parseHex("#6a4c93"), parseHex("#ff924c"),
	},
	"high_contrast": {
		parseHex("#000000"), parseHex("#e69f00"), parseHex("#56b4e9"),
		parseHex("#009e73"), parseHex("#f0e442"), parseHex("#0072b2"),
	},
}

// ColorSet is the resolved colouring for one graph render.
type ColorSet struct {
	// TV and Movie colour the split series when media separation is on.
	TV    drawing.Color
	Movie drawing.Color

	// Series colours unseparated or ranked charts, first entry primary.
	Series []drawing.Color
}

func (c ColorSet) Primary() drawing.Color {
	if len(c.Series) > 0 {
		return c.Series[0]
	}
	return defaultSeriesColor
}

// EffectiveColors resolves the colour set for a graph type. A configured
// palette wins over the media-type split colours, which win over the
// built-in default.
func (o Options) EffectiveColors(gt core.GraphType) ColorSet {
	if name := o.Palettes[gt]; name != "" {
		if series, ok := palettes[name]; ok {
			return ColorSet{TV: series[0], Movie: series[1%len(series)], Series: series}
		}
	}

	tv := parseHexOr(o.TVColor, palettes["default"][0])
	movie := parseHexOr(o.MovieColor, palettes["default"][1])
	return ColorSet{TV: tv, Movie: movie, Series: []drawing.Color{tv, movie}}
}

// parseHex parses #RGB, #RGBA, #RRGGBB and #RRGGBBAA.
func parseHex(s string) drawing.Color {
	s = strings.TrimPrefix(s, "#")
	// Expand short forms to the 8-digit canonical form.
	switch len(s) {
	case 3, 4:
		var expanded strings.Builder
		for _, r := range s {
			expanded.WriteRune(r)
			expanded.WriteRune(r)
		}
		s = expanded.String()
	}
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return defaultSeriesColor
	}
	return drawing.Color{
		R: hexByte(s[0], s[1]),
		G: hexByte(s[2], s[3]),
		B: hexByte(s[4], s[5]),
		A: hexByte(s[6], s[7]),
	}
}

func parseHexOr(s string, fallback drawing.Color) drawing.Color {
	if s == "" {
		return fallback
	}
	return parseHex(s)
}

func hexByte(hi, lo byte) uint8 {
	return hexNibble(hi)<<4 | hexNibble(lo)
}

func hexNibble(b byte) uint8 {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10
	}
	return 0
}
