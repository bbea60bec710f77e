package wsbot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	commandQuran             = "quran"
	commandEQuran            = "equran"
	commandESQuran           = "esquran"
	commandChapter           = "chapter"
	commandFootnote          = "footnote"
	commandSearchQuran       = "search-quran"
	commandSearchMedia       = "search-media"
	commandSearchNewsletters = "search-newsletters"
	commandWordByWord        = "word-by-word"
	commandRandomVerse       = "random-verse"
	commandPrayerTimes       = "prayer-times"
	commandAddBot            = "add-bot"

	optionVerse               = "verse"
	optionChapter             = "chapter"
	optionQuery               = "query"
	optionNoFootnotes         = "no-footnotes"
	optionWithTransliteration = "with-transliteration"
	optionStrictSearch        = "strict-search"
	optionLanguage            = "language"
	optionSpecificCategory    = "specific-category"
	optionLocation            = "location"
	optionPubliclyVisible     = "publicly-visible"
	optionAsrAdjustment       = "asr-adjustment"

	optionYes = "yes"

	// errorMessageLimit bounds error text sent back to users
	errorMessageLimit = 1900
)

// errorDeleteDelay is how long an error reply stays visible before
// it's deleted
var errorDeleteDelay = 3 * time.Second

var mediaCategories = []string{"sermon", "audio", "program"}

type commandFunc func(ctx context.Context, handler InteractionHandler)

// commandHandler runs slash commands and page navigation
type commandHandler struct {
	builder       *ResultBuilder
	api           ContentAPI
	pages         *pageResolver
	applicationID string
	logger        *slog.Logger
	handlers      map[string]commandFunc
}

func newCommandHandler(
	builder *ResultBuilder,
	api ContentAPI,
	pages *pageResolver,
	applicationID string,
	logger *slog.Logger,
) *commandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	c := &commandHandler{
		builder:       builder,
		api:           api,
		pages:         pages,
		applicationID: applicationID,
		logger:        logger,
	}
	c.handlers = map[string]commandFunc{
		commandQuran:             c.quran,
		commandEQuran:            c.quran,
		commandESQuran:           c.quran,
		commandChapter:           c.quran,
		commandFootnote:          c.quran,
		commandSearchQuran:       c.quran,
		commandSearchMedia:       c.searchMedia,
		commandSearchNewsletters: c.searchNewsletters,
		commandWordByWord:        c.wordByWord,
		commandRandomVerse:       c.randomVerse,
		commandPrayerTimes:       c.prayerTimes,
		commandAddBot:            c.addBot,
	}
	return c
}

// handleCommand dispatches an application command by name
func (c *commandHandler) handleCommand(ctx context.Context, handler InteractionHandler) {
	name := handler.GetInteraction().ApplicationCommandData().Name
	f, ok := c.handlers[name]
	if !ok {
		contextLoggerOr(ctx, c.logger).WarnContext(ctx, "unknown command", "command", name)
		_ = handler.Respond(ctx, ephemeralMessage(quoted("Unknown command")))
		return
	}
	f(ctx, handler)
}

// handleComponent handles a message component interaction
func (c *commandHandler) handleComponent(ctx context.Context, handler InteractionHandler) {
	if !c.pages.Resolve(ctx, handler) {
		contextLoggerOr(ctx, c.logger).DebugContext(
			ctx,
			"ignoring component interaction",
			"custom_id", handler.GetInteraction().MessageComponentData().CustomID,
		)
	}
}

// commandOptions are the options given to a slash command, by name
type commandOptions map[string]*discordgo.ApplicationCommandInteractionDataOption

func (o commandOptions) str(name string) string {
	opt, ok := o[name]
	if !ok || opt == nil || opt.Type != discordgo.ApplicationCommandOptionString {
		return ""
	}
	return opt.StringValue()
}

func (o commandOptions) yes(name string) bool {
	return o.str(name) == optionYes
}

// resolveLanguage picks the translation for a Quran command: an explicit
// option wins, then the command's own language, then the user's locale.
func resolveLanguage(command string, option string, locale discordgo.Locale) string {
	switch {
	case option != "":
		return parseLanguage(option)
	case command == commandESQuran:
		return languageSpanish
	case locale == discordgo.Turkish:
		return languageTurkish
	default:
		return languageEnglish
	}
}

func (c *commandHandler) quran(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	name := i.ApplicationCommandData().Name
	opts := commandOptions(discordInteractionOptions(i))

	q := quranQuery{
		Query:               opts.str(optionVerse),
		Language:            resolveLanguage(name, opts.str(optionLanguage), i.Locale),
		IncludeCommentary:   !opts.yes(optionNoFootnotes),
		WithTransliteration: opts.yes(optionWithTransliteration),
		Strict:              opts.yes(optionStrictSearch),
	}
	switch name {
	case commandEQuran:
		q.WithArabic = true
	case commandChapter:
		q.Query = opts.str(optionChapter)
	case commandFootnote:
		q.FootnoteOnly = true
	case commandSearchQuran:
		q.Query = opts.str(optionQuery)
		q.Search = true
	}
	c.replyPaginated(ctx, handler, q)
}

func (c *commandHandler) searchMedia(ctx context.Context, handler InteractionHandler) {
	opts := commandOptions(discordInteractionOptions(handler.GetInteraction()))
	c.replyPaginated(
		ctx,
		handler,
		mediaSearch{
			Query:    opts.str(optionQuery),
			Strict:   opts.yes(optionStrictSearch),
			Category: opts.str(optionSpecificCategory),
		},
	)
}

func (c *commandHandler) searchNewsletters(ctx context.Context, handler InteractionHandler) {
	opts := commandOptions(discordInteractionOptions(handler.GetInteraction()))
	c.replyPaginated(
		ctx,
		handler,
		newsletterSearch{
			Query:  opts.str(optionQuery),
			Strict: opts.yes(optionStrictSearch),
		},
	)
}

func (c *commandHandler) wordByWord(ctx context.Context, handler InteractionHandler) {
	opts := commandOptions(discordInteractionOptions(handler.GetInteraction()))
	c.replyPaginated(ctx, handler, wordByWord{Verse: opts.str(optionVerse)})
}

// replyPaginated defers the reply, builds the first page of content and
// edits it into the deferred message
func (c *commandHandler) replyPaginated(
	ctx context.Context,
	handler InteractionHandler,
	content Paginatable,
) {
	i := handler.GetInteraction()
	if err := handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		},
	); err != nil {
		return
	}

	var userID string
	if u := getDiscordUser(i); u != nil {
		userID = u.ID
	}

	result, err := c.builder.Build(
		ctx,
		BuildRequest{
			InteractionID: i.ID,
			UserID:        userID,
			Page:          1,
			Content:       content,
		},
	)
	if err != nil {
		c.replyError(ctx, handler, err)
		return
	}

	var summary *string
	if result.Summary != "" {
		summary = &result.Summary
	}
	if _, err = handler.Edit(ctx, result.webhookEdit(summary)); err != nil {
		c.replyError(ctx, handler, err)
	}
}

// replyError replaces the deferred reply with the error message, and
// deletes it after errorDeleteDelay. If the reply can't be edited, an
// ephemeral follow-up is sent instead.
func (c *commandHandler) replyError(ctx context.Context, handler InteractionHandler, err error) {
	logger := contextLoggerOr(ctx, c.logger)
	command := handler.GetInteraction().ApplicationCommandData().Name

	var queryErr *QueryError
	switch {
	case errors.As(err, &queryErr):
		logger.ErrorContext(
			ctx,
			"content API returned an error",
			"command", command,
			"status", queryErr.StatusCode,
			tint.Err(err),
		)
	case isExpectedError(err):
		logger.InfoContext(ctx, "command rejected", "command", command, "reason", err.Error())
	default:
		logger.ErrorContext(ctx, "error handling command", "command", command, tint.Err(err))
	}

	content := quoted(truncate(userMessage(err), errorMessageLimit))
	embeds := []*discordgo.MessageEmbed{}
	components := []discordgo.MessageComponent{}

	if _, editErr := handler.Edit(
		ctx,
		&discordgo.WebhookEdit{
			Content:    &content,
			Embeds:     &embeds,
			Components: &components,
		},
	); editErr == nil {
		deleteCtx := context.WithoutCancel(ctx)
		time.AfterFunc(errorDeleteDelay, func() { handler.Delete(deleteCtx) })
		return
	}

	if _, fuErr := handler.FollowUp(
		ctx,
		&discordgo.WebhookParams{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	); fuErr != nil {
		logger.ErrorContext(ctx, "unable to deliver error message", "command", command, tint.Err(fuErr))
	}
}

func (c *commandHandler) randomVerse(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	opts := commandOptions(discordInteractionOptions(i))

	if err := handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		},
	); err != nil {
		return
	}

	verse, err := c.api.RandomVerse(ctx)
	if err != nil {
		c.replyError(ctx, handler, err)
		return
	}

	lang := opts.str(optionLanguage)
	turkish := lang == languageTurkish ||
		(i.Locale == discordgo.Turkish && lang != languageEnglish)

	embeds := []*discordgo.MessageEmbed{randomVerseEmbed(verse, turkish)}
	if _, err = handler.Edit(ctx, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		c.replyError(ctx, handler, err)
	}
}

func (c *commandHandler) prayerTimes(ctx context.Context, handler InteractionHandler) {
	opts := commandOptions(discordInteractionOptions(handler.GetInteraction()))

	var flags discordgo.MessageFlags
	if !opts.yes(optionPubliclyVisible) {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: flags},
		},
	); err != nil {
		return
	}

	location := opts.str(optionLocation)
	if location == "" {
		c.replyError(ctx, handler, ErrMissingQuery)
		return
	}

	times, err := c.api.PrayerTimes(ctx, location, opts.yes(optionAsrAdjustment))
	if err != nil {
		c.replyError(ctx, handler, err)
		return
	}

	embeds := []*discordgo.MessageEmbed{prayerTimesEmbed(times)}
	if _, err = handler.Edit(ctx, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		c.replyError(ctx, handler, err)
	}
}

func (c *commandHandler) addBot(ctx context.Context, handler InteractionHandler) {
	_ = handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{addBotEmbed(c.applicationID)},
			},
		},
	)
}
