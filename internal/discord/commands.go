package discord

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/chartd-org/chartd/internal/build"
	"github.com/chartd-org/chartd/internal/config"
	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
	"github.com/chartd-org/chartd/internal/stringutil"
	"github.com/chartd-org/chartd/internal/tautulli"
	"github.com/chartd-org/chartd/internal/updater"
)

const repositoryURL = "https://github.com/chartd-org/chartd"

func commandDefinitions() []*discordgo.ApplicationCommand {
	manageServer := int64(discordgo.PermissionManageServer)
	return []*discordgo.ApplicationCommand{
		{
			Name:        "about",
			Description: "Show bot version, uptime and the next scheduled update",
		},
		{
			Name:        "uptime",
			Description: "Show how long the bot has been running",
		},
		{
			Name:        "config",
			Description: "View or edit the bot configuration",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "view",
					Description: "Show the configuration, or one key",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "key",
							Description: "Configuration key",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "edit",
					Description: "Change one configuration key",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "key",
							Description: "Configuration key",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "value",
							Description: "New value",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:        "my_stats",
			Description: "Receive your personal playback graphs by direct message",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "user",
					Description: "Your media-server username or email",
					Required:    true,
				},
			},
		},
		{
			Name:                     "update_graphs",
			Description:              "Trigger a stats update now",
			DefaultMemberPermissions: &manageServer,
		},
	}
}

func (s *Service) handleInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := i.ApplicationCommandData().Name
	ctx := logger.WithValues(s.baseCtx, tag.Command(name), tag.UserID(interactionUserID(i)))
	log := logger.FromContext(ctx)

	switch name {
	case "about":
		s.handleAbout(ctx, i)
	case "uptime":
		s.handleUptime(ctx, i)
	case "config":
		s.handleConfig(ctx, i)
	case "my_stats":
		s.handleMyStats(ctx, i)
	case "update_graphs":
		s.handleUpdateGraphs(ctx, i)
	default:
		log.Warn("unknown command")
	}
}

func (s *Service) handleAbout(ctx context.Context, i *discordgo.InteractionCreate) {
	status := s.sched.Status()
	fields := []*discordgo.MessageEmbedField{
		{Name: "Version", Value: build.Version, Inline: true},
		{Name: "Uptime", Value: stringutil.HumanDuration(s.clock.Now().Sub(s.startedAt)), Inline: true},
		{Name: "Repository", Value: repositoryURL},
	}
	if !status.NextUpdate.IsZero() {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Next update",
			Value: fmt.Sprintf("%s (%s)", fullStamp(status.NextUpdate), relStamp(status.NextUpdate)),
		})
	}
	s.respondEmbed(ctx, i, &discordgo.MessageEmbed{
		Title:  build.AppName,
		Color:  embedColor,
		Fields: fields,
	})
}

func (s *Service) handleUptime(ctx context.Context, i *discordgo.InteractionCreate) {
	up := s.clock.Now().Sub(s.startedAt)
	s.respondText(ctx, i, fmt.Sprintf("Running for %s, since %s.",
		stringutil.HumanDuration(up), relStamp(s.startedAt)))
}

func (s *Service) handleConfig(ctx context.Context, i *discordgo.InteractionCreate) {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return
	}
	sub := options[0]
	switch sub.Name {
	case "view":
		s.handleConfigView(ctx, i, sub)
	case "edit":
		s.handleConfigEdit(ctx, i, sub)
	}
}

func (s *Service) handleConfigView(ctx context.Context, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	if !s.admitCooldown(ctx, i, "config", s.store.Snapshot().Cooldowns.Config) {
		return
	}

	var key string
	for _, opt := range sub.Options {
		if opt.Name == "key" {
			key = opt.StringValue()
		}
	}

	if key != "" {
		value, err := s.store.Get(key)
		if err != nil {
			s.respondText(ctx, i, "Unknown configuration key `"+key+"`.")
			return
		}
		if value == "" {
			value = "(unset)"
		}
		s.respondText(ctx, i, fmt.Sprintf("`%s` = `%s`", key, value))
		return
	}

	var b strings.Builder
	b.WriteString("```\n")
	snapshot := s.store.Snapshot()
	for _, entry := range config.Catalogue() {
		value := entry.Get(snapshot)
		if entry.Secret {
			value = config.Redacted(value)
		}
		if value == "" {
			value = "(unset)"
		}
		fmt.Fprintf(&b, "%-40s %s\n", entry.Key, value)
	}
	b.WriteString("```")
	s.respondText(ctx, i, b.String())
}

func (s *Service) handleConfigEdit(ctx context.Context, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	if !s.requireManageServer(ctx, i) {
		return
	}
	if !s.admitCooldown(ctx, i, "config", s.store.Snapshot().Cooldowns.Config) {
		return
	}

	var key, value string
	for _, opt := range sub.Options {
		switch opt.Name {
		case "key":
			key = opt.StringValue()
		case "value":
			value = opt.StringValue()
		}
	}

	change, err := s.store.Edit(ctx, key, value)
	if err != nil {
		s.respondText(ctx, i, "Could not update `"+key+"`: "+err.Error())
		return
	}

	reply := fmt.Sprintf("Updated `%s`: `%s` -> `%s`", change.Key, orUnset(change.Old), orUnset(change.New))
	if change.ScheduleAffecting || change.Key == "language" {
		s.sched.Refresh()
		if next := s.sched.NextUpdateTime(); !next.IsZero() {
			reply += "\nNext update: " + relStamp(next)
		}
	}
	s.respondText(ctx, i, reply)
}

func (s *Service) handleMyStats(ctx context.Context, i *discordgo.InteractionCreate) {
	if !s.admitCooldown(ctx, i, "my_stats", s.store.Snapshot().Cooldowns.MyStats) {
		return
	}
	log := logger.FromContext(ctx)

	var identifier string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "user" {
			identifier = opt.StringValue()
		}
	}

	// Rendering takes a while; acknowledge first.
	if err := s.deferResponse(i); err != nil {
		log.Warn("could not defer interaction", tag.Error(err))
		return
	}

	user, err := s.users.LookupUser(ctx, identifier)
	if err != nil {
		s.followupText(ctx, i, fmt.Sprintf("No media-server user matches `%s`.", identifier))
		return
	}

	artifacts, dir, err := s.stats.RunUserGraphs(ctx, user.ID)
	if err != nil {
		log.Warn("user graph run failed", tag.Error(err))
		s.followupText(ctx, i, "Could not render your stats right now, try again later.")
		return
	}
	defer os.RemoveAll(dir)

	if err := s.dmArtifacts(ctx, interactionUserID(i), user, artifacts); err != nil {
		log.Warn("could not deliver stats DM", tag.Error(err))
		s.followupText(ctx, i, "I could not DM you. Check that direct messages from this server are open.")
		return
	}
	s.followupText(ctx, i, "Sent your personal stats by direct message.")
}

func (s *Service) dmArtifacts(ctx context.Context, discordUserID string, user tautulli.User, artifacts []updater.Artifact) error {
	channel, err := s.session.UserChannelCreate(discordUserID, discordgo.WithContext(ctx))
	if err != nil {
		return classifyDiscordErr(err, "open DM channel")
	}

	files, closers, err := openFiles(artifacts)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	name := user.FriendlyName
	if name == "" {
		name = user.Username
	}
	_, err = s.session.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
		Content: fmt.Sprintf("Playback stats for **%s**", name),
		Files:   files,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return classifyDiscordErr(err, "send DM")
	}
	return nil
}

func (s *Service) handleUpdateGraphs(ctx context.Context, i *discordgo.InteractionCreate) {
	if !s.requireManageServer(ctx, i) {
		return
	}
	if !s.admitCooldown(ctx, i, "update_graphs", s.store.Snapshot().Cooldowns.UpdateGraphs) {
		return
	}
	log := logger.FromContext(ctx)

	if err := s.deferResponse(i); err != nil {
		log.Warn("could not defer interaction", tag.Error(err))
		return
	}

	if err := s.sched.ForceUpdate(ctx); err != nil {
		log.Warn("manual update failed", tag.Error(err))
		s.followupText(ctx, i, "Update failed: "+err.Error())
		return
	}

	reply := "Graphs updated."
	if next := s.sched.NextUpdateTime(); !next.IsZero() {
		reply += " Next scheduled update " + relStamp(next) + "."
	}
	s.followupText(ctx, i, reply)
}

// admitCooldown enforces the command's throttle, answering with the
// release stamp when the caller has to wait.
func (s *Service) admitCooldown(ctx context.Context, i *discordgo.InteractionCreate, command string, cd config.Cooldown) bool {
	release, ok := s.cooldowns.check(command, interactionUserID(i), cd)
	if ok {
		return true
	}
	s.respondText(ctx, i, "On cooldown, available "+relStamp(release)+".")
	return false
}

// requireManageServer gates edit-style commands on the Manage Server
// permission. DMs have no member permissions and are refused.
func (s *Service) requireManageServer(ctx context.Context, i *discordgo.InteractionCreate) bool {
	if i.Member != nil && i.Member.Permissions&discordgo.PermissionManageServer != 0 {
		return true
	}
	s.respondText(ctx, i, "You need the Manage Server permission for this command.")
	logger.FromContext(ctx).Warn("command refused",
		tag.Error(&core.PermissionError{Action: i.ApplicationCommandData().Name}))
	return false
}

func (s *Service) respondText(ctx context.Context, i *discordgo.InteractionCreate, content string) {
	s.respond(ctx, i, &discordgo.InteractionResponseData{Content: content})
}

func (s *Service) respondEmbed(ctx context.Context, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	s.respond(ctx, i, &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}})
}

func (s *Service) respond(ctx context.Context, i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	if s.store.Snapshot().Discord.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := s.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(ctx))
	if err != nil {
		logger.FromContext(ctx).Warn("could not respond to interaction", tag.Error(err))
	}
}

func (s *Service) deferResponse(i *discordgo.InteractionCreate) error {
	data := &discordgo.InteractionResponseData{}
	if s.store.Snapshot().Discord.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
}

func (s *Service) followupText(ctx context.Context, i *discordgo.InteractionCreate, content string) {
	params := &discordgo.WebhookParams{Content: content}
	if s.store.Snapshot().Discord.Ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	if _, err := s.session.FollowupMessageCreate(i.Interaction, true, params, discordgo.WithContext(ctx)); err != nil {
		logger.FromContext(ctx).Warn("could not send follow-up", tag.Error(err))
	}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// relStamp renders a Discord relative timestamp ("in 3 days").
func relStamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

// fullStamp renders a Discord full date-time stamp in the viewer's zone.
func fullStamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:f>", t.Unix())
}

func orUnset(v string) string {
	if v == "" {
		return "(unset)"
	}
	return v
}
