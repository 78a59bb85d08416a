package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"

	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/scheduler"
	cronparser "github.com/robfig/cron/v3"
)

var (
	hexColorRe  = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
	snowflakeRe = regexp.MustCompile(`^[0-9]{5,20}$`)
)

// PaletteNames are the recognised palette identifiers; the empty string
// means "no palette override".
var PaletteNames = []string{"default", "dark", "pastel", "bright", "high_contrast"}

const maxHostnameLen = 253

// validateHexColor accepts #RGB, #RGBA, #RRGGBB and #RRGGBBAA.
func validateHexColor(key, value string) error {
	if !hexColorRe.MatchString(value) {
		return core.NewConfigError(key, fmt.Sprintf("invalid hex colour %q", value))
	}
	return nil
}

// validateServiceURL enforces the URL safety rules: http(s) only, a real
// host that is not loopback, no path traversal, bounded hostname length.
func validateServiceURL(key, value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return core.NewConfigError(key, fmt.Sprintf("invalid URL: %v", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return core.NewConfigError(key, "URL scheme must be http or https")
	}
	host := u.Hostname()
	if host == "" {
		return core.NewConfigError(key, "URL has no host")
	}
	if len(host) > maxHostnameLen {
		return core.NewConfigError(key, "URL hostname too long")
	}
	lower := strings.ToLower(host)
	if lower == "localhost" {
		return core.NewConfigError(key, "loopback URLs are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return core.NewConfigError(key, "loopback URLs are not allowed")
	}
	if strings.Contains(u.Path, "..") {
		return core.NewConfigError(key, "URL path traversal is not allowed")
	}
	return nil
}

func validateSnowflake(key, value string) error {
	if !snowflakeRe.MatchString(value) {
		return core.NewConfigError(key, fmt.Sprintf("%q is not a channel id", value))
	}
	return nil
}

func validateIntRange(key, value string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, core.NewConfigError(key, fmt.Sprintf("%q is not an integer", value))
	}
	if n < lo || n > hi {
		return 0, core.NewConfigError(key, fmt.Sprintf("must be between %d and %d, got %d", lo, hi, n))
	}
	return n, nil
}

func validateBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, core.NewConfigError(key, fmt.Sprintf("%q is not a boolean", value))
	}
	return b, nil
}

func validateFixedUpdateTime(value string) error {
	if value == scheduler.FixedTimeDisabled {
		return nil
	}
	_, _, err := scheduler.ParseFixedTime(value)
	return err
}

func validatePalette(key, value string) error {
	if value == "" {
		return nil
	}
	for _, name := range PaletteNames {
		if value == name {
			return nil
		}
	}
	return core.NewConfigError(key, fmt.Sprintf("unknown palette %q (known: %s)", value, strings.Join(PaletteNames, ", ")))
}

func validateLanguage(key, value string) error {
	if _, err := language.Parse(value); err != nil {
		return core.NewConfigError(key, fmt.Sprintf("%q is not a BCP-47 language tag", value))
	}
	return nil
}

func validateCron(key, value string) error {
	parser := cronparser.NewParser(cronparser.Minute | cronparser.Hour | cronparser.Dom | cronparser.Month | cronparser.Dow)
	if _, err := parser.Parse(value); err != nil {
		return core.NewConfigError(key, fmt.Sprintf("invalid cron expression: %v", err))
	}
	return nil
}
