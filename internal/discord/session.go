// Package discord is the chat-service surface: the bot session, the slash
// commands and the graph poster all live here.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/config"
	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
	"github.com/chartd-org/chartd/internal/scheduler"
	"github.com/chartd-org/chartd/internal/tautulli"
	"github.com/chartd-org/chartd/internal/updater"
)

// SchedulerAPI is the slice of the scheduler the commands need.
type SchedulerAPI interface {
	ForceUpdate(ctx context.Context) error
	Refresh()
	NextUpdateTime() time.Time
	Status() scheduler.Status
}

// UserLookup resolves chat-supplied identifiers to analytics users.
type UserLookup interface {
	LookupUser(ctx context.Context, identifier string) (tautulli.User, error)
}

// StatsRenderer produces the per-user graph set for my_stats.
type StatsRenderer interface {
	RunUserGraphs(ctx context.Context, userID int) ([]updater.Artifact, string, error)
}

// Service owns the bot session and its command handlers.
type Service struct {
	session   *discordgo.Session
	store     *config.Store
	sched     SchedulerAPI
	stats     StatsRenderer
	users     UserLookup
	clock     clock.Clock
	cooldowns *cooldowns
	startedAt time.Time

	// baseCtx carries the logger into gateway callbacks, which have no
	// context of their own.
	baseCtx context.Context

	registered []*discordgo.ApplicationCommand
}

func New(store *config.Store, sched SchedulerAPI, stats StatsRenderer, users UserLookup, clk clock.Clock) (*Service, error) {
	cfg := store.Snapshot()
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages

	return &Service{
		session:   session,
		store:     store,
		sched:     sched,
		stats:     stats,
		users:     users,
		clock:     clk,
		cooldowns: newCooldowns(clk),
	}, nil
}

// Start opens the gateway connection and registers the slash commands.
func (s *Service) Start(ctx context.Context) error {
	s.baseCtx = ctx
	s.startedAt = s.clock.Now()
	log := logger.FromContext(ctx)

	s.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		log.Info("gateway session ready",
			tag.User(r.User.Username), tag.Count(len(r.Guilds)))
	})
	s.session.AddHandler(s.handleInteraction)

	if err := s.session.Open(); err != nil {
		return classifyDiscordErr(err, "open gateway")
	}
	if err := s.registerCommands(); err != nil {
		_ = s.session.Close()
		return err
	}

	s.cooldowns.startSweeper(ctx)
	log.Info("slash commands registered", tag.Count(len(s.registered)))
	return nil
}

// Stop removes the registered commands and closes the session.
func (s *Service) Stop(ctx context.Context) {
	log := logger.FromContext(ctx)
	appID := s.session.State.User.ID
	for _, cmd := range s.registered {
		if err := s.session.ApplicationCommandDelete(appID, "", cmd.ID); err != nil {
			log.Warn("could not remove command", tag.Command(cmd.Name), tag.Error(err))
		}
	}
	if err := s.session.Close(); err != nil {
		log.Warn("error closing gateway session", tag.Error(err))
	}
}

// Poster returns the updater-facing artifact publisher sharing this
// session.
func (s *Service) Poster() *Poster {
	return &Poster{session: s.session, store: s.store}
}

func (s *Service) registerCommands() error {
	appID := s.session.State.User.ID
	for _, def := range commandDefinitions() {
		created, err := s.session.ApplicationCommandCreate(appID, "", def)
		if err != nil {
			return classifyDiscordErr(err, "register command "+def.Name)
		}
		s.registered = append(s.registered, created)
	}
	return nil
}

// classifyDiscordErr converts discordgo REST failures into classified
// service errors so retry policy upstream can act on the status code.
func classifyDiscordErr(err error, action string) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return &core.ServiceError{
			Service:    "discord",
			StatusCode: restErr.Response.StatusCode,
			Message:    action + ": " + err.Error(),
		}
	}
	return &core.ServiceError{Service: "discord", Message: action + ": " + err.Error()}
}
