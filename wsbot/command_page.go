package wsbot

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// pageResolver handles "Previous page"/"Next page" button clicks on
// paginated results.
type pageResolver struct {
	cache      *PageCache
	authorizer MemberAuthorizer
	logger     *slog.Logger
}

func newPageResolver(cache *PageCache, authorizer MemberAuthorizer, logger *slog.Logger) *pageResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &pageResolver{cache: cache, authorizer: authorizer, logger: logger}
}

// originalInteractionID returns the ID of the slash command interaction
// that produced msg, or an empty string if msg wasn't a command reply.
func originalInteractionID(msg *discordgo.Message) string {
	if msg == nil || msg.Interaction == nil {
		return ""
	}
	return msg.Interaction.ID
}

// Resolve handles a navigation click. It returns false, without
// responding, if the interaction isn't a page button on a command reply.
func (p *pageResolver) Resolve(ctx context.Context, handler InteractionHandler) bool {
	i := handler.GetInteraction()
	if i.Type != discordgo.InteractionMessageComponent {
		return false
	}

	page, err := decodePageCustomID(i.MessageComponentData().CustomID)
	if err != nil {
		return false
	}
	key := originalInteractionID(i.Message)
	if key == "" {
		return false
	}

	logger := contextLoggerOr(ctx, p.logger).With(
		"original_interaction_id", key,
		"page", page,
	)

	cached, ok := p.cache.Get(ctx, key)
	if !ok {
		logger.InfoContext(ctx, "page request expired")
		p.reject(ctx, logger, handler, ErrRequestExpired)
		return true
	}

	var userID string
	if u := getDiscordUser(i); u != nil {
		userID = u.ID
	}
	if userID != cached.UserID && !p.authorized(i.Member) {
		logger.InfoContext(ctx, "page request from non-owner", "owner_id", cached.UserID)
		p.reject(ctx, logger, handler, ErrNotRequester)
		return true
	}

	switch {
	case page > cached.TotalPages:
		p.reject(ctx, logger, handler, ErrPageOutOfRangeHigh)
		return true
	case page <= 0:
		p.reject(ctx, logger, handler, ErrPageOutOfRangeLow)
		return true
	}

	if err = handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		},
	); err != nil {
		p.fail(ctx, logger, handler, err)
		return true
	}

	rendered := renderPage(
		cached.Title,
		cached.Footer,
		cached.Pages[page-1],
		page,
		cached.TotalPages,
	)
	if _, err = handler.Edit(ctx, rendered.webhookEdit(nil)); err != nil {
		p.fail(ctx, logger, handler, err)
		return true
	}
	logger.DebugContext(ctx, "changed page", "total_pages", cached.TotalPages)
	return true
}

func (p *pageResolver) authorized(member *discordgo.Member) bool {
	return p.authorizer != nil && p.authorizer.Authorized(member)
}

// reject sends an ephemeral explanation of why the page wasn't changed
func (p *pageResolver) reject(
	ctx context.Context,
	logger *slog.Logger,
	handler InteractionHandler,
	reason error,
) {
	if err := handler.Respond(ctx, ephemeralMessage(quoted(userMessage(reason)))); err != nil {
		logger.WarnContext(ctx, "unable to send page rejection", tint.Err(err))
	}
}

// fail reports a rendering failure by editing the message, or with a
// follow-up message if the edit doesn't go through
func (p *pageResolver) fail(
	ctx context.Context,
	logger *slog.Logger,
	handler InteractionHandler,
	cause error,
) {
	logger.ErrorContext(ctx, "error changing page", tint.Err(cause))
	// The delivery error itself is shown, since nothing else explains
	// why the page didn't change
	content := quoted(truncate(cause.Error(), errorMessageLimit))

	if _, err := handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content}); err == nil {
		return
	}
	if _, err := handler.FollowUp(
		ctx,
		&discordgo.WebhookParams{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	); err != nil {
		logger.ErrorContext(ctx, "unable to report page change failure", tint.Err(err))
	}
}
