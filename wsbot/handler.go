package wsbot

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// InteractionHandler responds to a single Discord interaction, however
// it was received.
type InteractionHandler interface {
	// Respond sends an initial response to a Discord interaction.
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// Edit modifies an existing interaction response.
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Delete removes an interaction response.
	Delete(ctx context.Context, opts ...discordgo.RequestOption)

	// FollowUp sends a new message in reply to the interaction
	FollowUp(
		ctx context.Context,
		params *discordgo.WebhookParams,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// InteractionReceiveMethod returns the method used to receive the
	// interaction (webhook or gateway).
	InteractionReceiveMethod() DiscordInteractionReceiveMethod

	// Logger returns the logger associated with this handler.
	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] when receiving interactions
// via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (GatewayHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodGateway
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "responded to interaction", "response_type", response.Type)
	}
	return err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		wh,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "edited interaction")
	}
	return msg, err
}

func (w GatewayHandler) Delete(ctx context.Context, opts ...discordgo.RequestOption) {
	err := w.session.InteractionResponseDelete(
		w.interaction.Interaction,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error deleting interaction response", tint.Err(err))
	}
}

func (w GatewayHandler) FollowUp(
	ctx context.Context,
	params *discordgo.WebhookParams,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.FollowupMessageCreate(
		w.interaction.Interaction,
		true,
		params,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error sending follow-up", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

// ephemeralMessage is an immediate, ephemeral reply
func ephemeralMessage(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

// quoted wraps a user-facing message in backticks
func quoted(msg string) string {
	return "`" + msg + "`"
}
