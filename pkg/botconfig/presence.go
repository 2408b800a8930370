package botconfig

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/galactica/pkg/storage"
)

// ApplyPresence pushes the configuration to the gateway as the bot's presence.
func ApplyPresence(s *discordgo.Session, cfg storage.BotConfiguration) error {
	if s == nil {
		return fmt.Errorf("nil session")
	}

	data := discordgo.UpdateStatusData{
		Status: string(cfg.Status),
		Activities: []*discordgo.Activity{
			{
				Name: cfg.ActivityText,
				Type: activityType(cfg.ActivityKind),
			},
		},
	}
	if err := s.UpdateStatusComplex(data); err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return nil
}

func activityType(kind storage.ActivityKind) discordgo.ActivityType {
	switch kind {
	case storage.ActivityStreaming:
		return discordgo.ActivityTypeStreaming
	case storage.ActivityListening:
		return discordgo.ActivityTypeListening
	case storage.ActivityWatching:
		return discordgo.ActivityTypeWatching
	case storage.ActivityCompeting:
		return discordgo.ActivityTypeCompeting
	default:
		return discordgo.ActivityTypeGame
	}
}
