package discord

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"

	"github.com/chartd-org/chartd/internal/config"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
	"github.com/chartd-org/chartd/internal/updater"
)

const (
	// filesPerMessage is the chat service's attachment cap per message.
	filesPerMessage = 10

	// messagesPerPage bounds one history fetch while scanning for prior
	// bot posts.
	messagesPerPage = 100

	embedColor = 0x1f77b4
)

// Poster publishes rendered graphs to the configured channel, replacing
// the previous posting.
type Poster struct {
	session *discordgo.Session
	store   *config.Store
}

var _ updater.Poster = (*Poster)(nil)

// PostGraphs deletes the bot's previous graph messages within the
// configured lookback and uploads the new artifacts in batches, the first
// batch carrying the schedule embed.
func (p *Poster) PostGraphs(ctx context.Context, artifacts []updater.Artifact, info updater.PostInfo) error {
	cfg := p.store.Snapshot()
	channelID := cfg.Discord.ChannelID
	log := logger.FromContext(ctx)

	if err := p.deletePrevious(ctx, channelID, cfg.Discord.DeleteLookback); err != nil {
		// Old messages hanging around is cosmetic; the new post matters.
		log.Warn("could not delete previous graph messages", tag.Error(err))
	}

	embed := scheduleEmbed(info)
	for batchIdx, batch := range lo.Chunk(artifacts, filesPerMessage) {
		files, closers, err := openFiles(batch)
		if err != nil {
			return err
		}

		send := &discordgo.MessageSend{Files: files}
		if batchIdx == 0 {
			send.Embeds = []*discordgo.MessageEmbed{embed}
		}
		_, sendErr := p.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
		for _, c := range closers {
			_ = c.Close()
		}
		if sendErr != nil {
			return classifyDiscordErr(sendErr, "post graphs")
		}
		log.Info("posted graph batch", tag.Channel(channelID), tag.Count(len(batch)))
	}
	return nil
}

// deletePrevious scans back through the channel and removes messages this
// bot posted with attachments, up to lookback messages deep.
func (p *Poster) deletePrevious(ctx context.Context, channelID string, lookback int) error {
	if lookback <= 0 {
		return nil
	}
	botID := p.session.State.User.ID

	var beforeID string
	remaining := lookback
	for remaining > 0 {
		pageSize := min(remaining, messagesPerPage)
		msgs, err := p.session.ChannelMessages(channelID, pageSize, beforeID, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return classifyDiscordErr(err, "list channel messages")
		}
		if len(msgs) == 0 {
			return nil
		}
		for _, msg := range msgs {
			if msg.Author != nil && msg.Author.ID == botID && (len(msg.Attachments) > 0 || len(msg.Embeds) > 0) {
				if err := p.session.ChannelMessageDelete(channelID, msg.ID, discordgo.WithContext(ctx)); err != nil {
					return classifyDiscordErr(err, "delete previous message")
				}
			}
		}
		beforeID = msgs[len(msgs)-1].ID
		remaining -= len(msgs)
		if len(msgs) < pageSize {
			return nil
		}
	}
	return nil
}

func openFiles(batch []updater.Artifact) ([]*discordgo.File, []*os.File, error) {
	var files []*discordgo.File
	var closers []*os.File
	for _, a := range batch {
		f, err := os.Open(a.Path)
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, nil, fmt.Errorf("open artifact %s: %w", a.Path, err)
		}
		closers = append(closers, f)
		files = append(files, &discordgo.File{
			Name:        filepath.Base(a.Path),
			ContentType: "image/png",
			Reader:      f,
		})
	}
	return files, closers, nil
}

func scheduleEmbed(info updater.PostInfo) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Playback statistics",
		Color: embedColor,
	}
	if !info.LastUpdate.IsZero() {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Updated",
			Value:  relStamp(info.LastUpdate),
			Inline: true,
		})
	}
	if !info.NextUpdate.IsZero() {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Next update",
			Value:  fmt.Sprintf("%s (%s)", fullStamp(info.NextUpdate), relStamp(info.NextUpdate)),
			Inline: true,
		})
	}
	return embed
}
