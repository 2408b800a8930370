package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/galactica/pkg/botconfig"
	"github.com/small-frappuccino/galactica/pkg/guildconfig"
	"github.com/small-frappuccino/galactica/pkg/leveling"
	"github.com/small-frappuccino/galactica/pkg/log"
)

const handlerTimeout = 10 * time.Second

// replyFn sends the level-up reply; replaced in tests.
type replyFn func(s *discordgo.Session, channelID, content string, ref *discordgo.MessageReference) error

func sendReply(s *discordgo.Session, channelID, content string, ref *discordgo.MessageReference) error {
	_, err := s.ChannelMessageSendReply(channelID, content, ref)
	return err
}

// Handlers binds gateway events to the configuration cache, the guild config
// service and the XP ledger.
type Handlers struct {
	cache  *botconfig.Cache
	guilds *guildconfig.Service
	ledger *leveling.Ledger
	reply  replyFn
}

// NewHandlers wires the event handlers over the given services.
func NewHandlers(cache *botconfig.Cache, guilds *guildconfig.Service, ledger *leveling.Ledger) *Handlers {
	return &Handlers{
		cache:  cache,
		guilds: guilds,
		ledger: ledger,
		reply:  sendReply,
	}
}

// Register attaches all handlers to the session. Call before Connect so no
// early events are missed.
func (h *Handlers) Register(s *discordgo.Session) {
	s.AddHandler(h.onReady)
	s.AddHandler(h.onGuildCreate)
	s.AddHandler(h.onGuildDelete)
	s.AddHandler(h.onMessageCreate)
}

// onReady applies the cached presence configuration as soon as the gateway
// acknowledges the session.
func (h *Handlers) onReady(s *discordgo.Session, r *discordgo.Ready) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	cfg, err := h.cache.Get(ctx)
	if err != nil {
		log.DiscordLogger().Error("Failed to load configuration on ready", "err", err)
		return
	}
	if err := botconfig.ApplyPresence(s, cfg); err != nil {
		log.DiscordLogger().Error("Failed to apply presence on ready", "err", err)
		return
	}
	log.DiscordLogger().Info("Session ready", "guilds", len(r.Guilds), "status", cfg.Status)
}

func (h *Handlers) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := h.guilds.HandleGuildJoin(ctx, g.ID, g.Name); err != nil {
		log.DiscordLogger().Error("Failed to register guild", "guild_id", g.ID, "err", err)
	}
}

func (h *Handlers) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	// Unavailable means an outage, not a removal; the configuration stays.
	if g.Unavailable {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := h.guilds.HandleGuildLeave(ctx, g.ID); err != nil {
		log.DiscordLogger().Error("Failed to remove guild configuration", "guild_id", g.ID, "err", err)
	}
}

func (h *Handlers) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.GuildID == "" {
		// Direct messages never earn XP.
		return
	}

	amount := leveling.ComputeAward(m.Content)
	if amount <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	leveledUp, newLevel, err := h.ledger.AwardXp(ctx, m.Author.ID, m.GuildID, amount)
	if err != nil {
		log.DiscordLogger().Error("Failed to award XP",
			"user_id", m.Author.ID, "guild_id", m.GuildID, "err", err)
		return
	}
	if !leveledUp {
		return
	}

	content := fmt.Sprintf("You've leveled up to level %d!", newLevel)
	if err := h.reply(s, m.ChannelID, content, m.Reference()); err != nil {
		log.DiscordLogger().Warn("Failed to send level-up reply",
			"user_id", m.Author.ID, "channel_id", m.ChannelID, "err", err)
	}
}
