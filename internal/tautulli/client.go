// Package tautulli is a thin client for the Tautulli /api/v2 endpoint.
// Every command goes through the same apikey+cmd query shape and the same
// {response:{result,message,data}} envelope.
package tautulli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
)

const (
	serviceName    = "tautulli"
	requestTimeout = 30 * time.Second
	retryCount     = 2

	// historyPageLength bounds one get_history page; the server caps
	// responses anyway, so larger values only waste memory.
	historyPageLength = 1000

	userCacheSize = 256
	userCacheTTL  = 10 * time.Minute
)

// Client talks to one Tautulli instance.
type Client struct {
	http   *resty.Client
	apiKey string
	clock  clock.Clock
	users  *expirable.LRU[string, User]
}

type Option func(*Client)

// WithClock overrides the clock used for history cutoffs.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// New builds a client for the Tautulli instance at baseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(requestTimeout).
		SetRetryCount(retryCount).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.StatusCode() >= 500
		})

	c := &Client{
		http:   httpClient,
		apiKey: apiKey,
		users:  expirable.NewLRU[string, User](userCacheSize, nil, userCacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clock.System(nil)
	}
	return c
}

// envelope is the fixed response wrapper around every command.
type envelope struct {
	Response struct {
		Result  string          `json:"result"`
		Message *string         `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"response"`
}

// call performs one api/v2 command and returns the unwrapped data payload.
func (c *Client) call(ctx context.Context, cmd string, params map[string]string) (json.RawMessage, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("apikey", c.apiKey).
		SetQueryParam("cmd", cmd)
	for k, v := range params {
		req.SetQueryParam(k, v)
	}

	resp, err := req.Get("/api/v2")
	if err != nil {
		return nil, &core.ServiceError{Service: serviceName, Message: err.Error()}
	}
	if resp.StatusCode() != 200 {
		return nil, &core.ServiceError{
			Service:    serviceName,
			StatusCode: resp.StatusCode(),
			Message:    fmt.Sprintf("%s returned %s", cmd, resp.Status()),
		}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, &core.ServiceError{Service: serviceName, Message: fmt.Sprintf("%s: malformed response: %v", cmd, err)}
	}
	if env.Response.Result != "success" {
		msg := "command failed"
		if env.Response.Message != nil {
			msg = *env.Response.Message
		}
		return nil, &core.ServiceError{Service: serviceName, Message: fmt.Sprintf("%s: %s", cmd, msg)}
	}
	return env.Response.Data, nil
}

// Ping verifies connectivity and the API key.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "status", nil)
	return err
}

type historyPage struct {
	RecordsFiltered int `json:"recordsFiltered"`
	Data            []struct {
		Date         int64  `json:"date"`
		User         string `json:"user"`
		UserID       int    `json:"user_id"`
		MediaType    string `json:"media_type"`
		Platform     string `json:"platform"`
		PlayDuration int64  `json:"play_duration"`
	} `json:"data"`
}

// History returns playback records from the last `days` days, newest first
// as the server reports them. Pages are fetched until the cutoff or the
// filtered record count is reached.
func (c *Client) History(ctx context.Context, days int) ([]Play, error) {
	return c.history(ctx, days, 0)
}

// HistoryForUser is History restricted to one analytics user id.
func (c *Client) HistoryForUser(ctx context.Context, days, userID int) ([]Play, error) {
	return c.history(ctx, days, userID)
}

func (c *Client) history(ctx context.Context, days, userID int) ([]Play, error) {
	cutoff := c.clock.Now().AddDate(0, 0, -days)
	log := logger.FromContext(ctx)

	var plays []Play
	for start := 0; ; start += historyPageLength {
		params := map[string]string{
			"start":            strconv.Itoa(start),
			"length":           strconv.Itoa(historyPageLength),
			"order":            "desc",
			"after":            cutoff.Format("2006-01-02"),
			"include_activity": "0",
		}
		if userID != 0 {
			params["user_id"] = strconv.Itoa(userID)
		}

		data, err := c.call(ctx, "get_history", params)
		if err != nil {
			return nil, err
		}
		var page historyPage
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, &core.ServiceError{Service: serviceName, Message: fmt.Sprintf("get_history: malformed page: %v", err)}
		}

		reachedCutoff := false
		for _, rec := range page.Data {
			ts := time.Unix(rec.Date, 0).In(c.clock.Location())
			if ts.Before(cutoff) {
				reachedCutoff = true
				continue
			}
			plays = append(plays, Play{
				Time:      ts,
				User:      rec.User,
				UserID:    rec.UserID,
				MediaType: normalizeMediaType(rec.MediaType),
				Platform:  rec.Platform,
				Duration:  time.Duration(rec.PlayDuration) * time.Second,
			})
		}

		if reachedCutoff || len(page.Data) < historyPageLength || start+len(page.Data) >= page.RecordsFiltered {
			break
		}
	}

	log.Debug("fetched play history", tag.Count(len(plays)))
	return plays, nil
}

type monthlyData struct {
	Categories []string `json:"categories"`
	Series     []struct {
		Name string    `json:"name"`
		Data []float64 `json:"data"`
	} `json:"series"`
}

// PlaysPerMonth returns monthly play totals for the last `months` months.
func (c *Client) PlaysPerMonth(ctx context.Context, months int) (MonthlyPlays, error) {
	data, err := c.call(ctx, "get_plays_per_month", map[string]string{
		"time_range": strconv.Itoa(months),
		"y_axis":     "plays",
	})
	if err != nil {
		return MonthlyPlays{}, err
	}

	var raw monthlyData
	if err := json.Unmarshal(data, &raw); err != nil {
		return MonthlyPlays{}, &core.ServiceError{Service: serviceName, Message: fmt.Sprintf("get_plays_per_month: malformed response: %v", err)}
	}

	out := MonthlyPlays{Categories: raw.Categories}
	for _, s := range raw.Series {
		out.Series = append(out.Series, MonthlySeries{Name: s.Name, Data: s.Data})
	}
	return out, nil
}

type userRecord struct {
	UserID       int    `json:"user_id"`
	Username     string `json:"username"`
	FriendlyName string `json:"friendly_name"`
	Email        string `json:"email"`
}

// LookupUser resolves an identifier (username, friendly name or email,
// case-insensitive) to an analytics user. Hits are memoized for a short
// TTL so bursts of my_stats requests do not hammer get_users.
func (c *Client) LookupUser(ctx context.Context, identifier string) (User, error) {
	key := strings.ToLower(strings.TrimSpace(identifier))
	if key == "" {
		return User{}, &core.ServiceError{Service: serviceName, Message: "empty user identifier"}
	}
	if u, ok := c.users.Get(key); ok {
		return u, nil
	}

	data, err := c.call(ctx, "get_users", nil)
	if err != nil {
		return User{}, err
	}
	var records []userRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return User{}, &core.ServiceError{Service: serviceName, Message: fmt.Sprintf("get_users: malformed response: %v", err)}
	}

	for _, rec := range records {
		u := User{
			ID:           rec.UserID,
			Username:     rec.Username,
			FriendlyName: rec.FriendlyName,
			Email:        rec.Email,
		}
		if strings.EqualFold(rec.Username, key) ||
			strings.EqualFold(rec.FriendlyName, key) ||
			strings.EqualFold(rec.Email, key) {
			c.users.Add(key, u)
			return u, nil
		}
	}
	return User{}, &core.ServiceError{
		Service:    serviceName,
		StatusCode: 404,
		Message:    fmt.Sprintf("no user matches %q", identifier),
	}
}
