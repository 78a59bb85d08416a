package discord

import (
	"context"
	"sync"
	"time"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/config"
)

const sweepInterval = 10 * time.Minute

// cooldowns throttles command usage per user and globally per command.
// Values at or below zero disable the corresponding throttle.
type cooldowns struct {
	clock clock.Clock

	mu     sync.Mutex
	byUser map[string]time.Time // "<command>/<userID>" -> release
	global map[string]time.Time // command -> release
}

func newCooldowns(clk clock.Clock) *cooldowns {
	return &cooldowns{
		clock:  clk,
		byUser: map[string]time.Time{},
		global: map[string]time.Time{},
	}
}

// check admits or refuses one invocation. When refused, release is the
// instant the command frees up. Admission immediately engages both
// throttles so bursts cannot slip through.
func (c *cooldowns) check(command, userID string, cd config.Cooldown) (release time.Time, ok bool) {
	now := c.clock.Now()
	userKey := command + "/" + userID

	c.mu.Lock()
	defer c.mu.Unlock()

	if until, found := c.global[command]; found && now.Before(until) {
		return until, false
	}
	if until, found := c.byUser[userKey]; found && now.Before(until) {
		return until, false
	}

	if cd.GlobalSeconds > 0 {
		c.global[command] = now.Add(time.Duration(cd.GlobalSeconds) * time.Second)
	}
	if cd.PerUserMinutes > 0 {
		c.byUser[userKey] = now.Add(time.Duration(cd.PerUserMinutes) * time.Minute)
	}
	return time.Time{}, true
}

// startSweeper prunes expired entries until ctx is done, so long-running
// processes do not accumulate one map entry per user forever.
func (c *cooldowns) startSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *cooldowns) sweep() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, until := range c.byUser {
		if now.After(until) {
			delete(c.byUser, key)
		}
	}
	for key, until := range c.global {
		if now.After(until) {
			delete(c.global, key)
		}
	}
}
