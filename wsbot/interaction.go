package wsbot

import (
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// InteractionLog records each interaction received, when a database
// is configured.
//
//nolint:lll // struct tags can't be split
type InteractionLog struct {
	ModelUintID
	Method        DiscordInteractionReceiveMethod `json:"method" gorm:"type:string"` // webhook or gateway
	InteractionID string                          `json:"interaction_id" gorm:"not null;index"`
	Type          string                          `json:"type" gorm:"type:string"`
	Command       string                          `json:"command" gorm:"type:string"`
	UserID        string                          `json:"user_id" gorm:"not null"`
	Username      string                          `json:"username" gorm:"type:string"`
	AppID         string                          `json:"application_id" gorm:"type:string"`
	GuildID       string                          `json:"guild_id" gorm:"type:string"`
	ChannelID     string                          `json:"channel_id" gorm:"type:string"`
	Context       string                          `json:"context" gorm:"type:string"`
	Payload       string                          `json:"payload" gorm:"type:string"`
	CreatedAt     int64                           `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func (InteractionLog) TableName() string {
	return "ws_discord_interaction_log"
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	method DiscordInteractionReceiveMethod,
) (*InteractionLog, error) {
	p, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}

	interactionLog := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		UserID:        u.ID,
		Username:      u.String(),
		AppID:         i.AppID,
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Context:       i.Context.String(),
		Payload:       string(p),
		Method:        method,
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		interactionLog.Command = i.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		interactionLog.Command = i.MessageComponentData().CustomID
	}
	return interactionLog, nil
}
