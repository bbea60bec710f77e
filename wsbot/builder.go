package wsbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lmittmann/tint"
)

const internalErrorMessage = "Internal Server Error"

// UserError is an error whose message is shown to the user as-is
type UserError struct {
	Message string
}

func (e *UserError) Error() string {
	return e.Message
}

var (
	ErrMissingQuery       = &UserError{Message: "Missing query"}
	ErrSingleVerseOnly    = &UserError{Message: "Please request only one verse at a time."}
	ErrPageOutOfRangeHigh = &UserError{Message: "You've reached the last page."}
	ErrPageOutOfRangeLow  = &UserError{Message: "You're on the first page."}
	ErrRequestExpired     = &UserError{Message: "Request expired. Please make a new one."}
	ErrNotRequester       = &UserError{
		Message: "Only the original requester may change the page. You can make your own request.",
	}
)

// QueryError is a failure reported by the content API
type QueryError struct {
	Message    string
	StatusCode int
}

func (e *QueryError) Error() string {
	return e.Message
}

// NotFoundError is returned when a query succeeds with no results
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message == "" {
		return "No results found"
	}
	return e.Message
}

// userMessage returns the text shown to the user for err. Errors that
// aren't meant for users are reported as an internal error.
func userMessage(err error) string {
	var userErr *UserError
	var queryErr *QueryError
	var notFound *NotFoundError
	switch {
	case errors.As(err, &userErr):
		return userErr.Message
	case errors.As(err, &queryErr):
		return queryErr.Message
	case errors.As(err, &notFound):
		return notFound.Error()
	default:
		return internalErrorMessage
	}
}

// isExpectedError reports whether err is caused by user input or an
// upstream "no results", rather than a failure worth logging as an error
func isExpectedError(err error) bool {
	var userErr *UserError
	var notFound *NotFoundError
	return errors.As(err, &userErr) || errors.As(err, &notFound)
}

// PaginatedContent is the formatted result of a content query
type PaginatedContent struct {
	Title  string
	Footer string

	// Blocks are the formatted result entries, in order
	Blocks []string

	// Summary is optional message text shown alongside the embed
	Summary string
}

// Paginatable is a content query whose results can be split into pages.
// Fetch returns *QueryError for API failures and *NotFoundError when
// there are no results.
type Paginatable interface {
	Fetch(ctx context.Context, api ContentAPI) (PaginatedContent, error)
}

// BuildRequest describes one page of a paginated result
type BuildRequest struct {
	// InteractionID keys the cached pages. It must be the ID of the
	// interaction whose reply carries the navigation buttons.
	InteractionID string

	// UserID is the requester, the only non-elevated user allowed to
	// change pages
	UserID string

	// Page is the 1-indexed page to render
	Page int

	Content Paginatable
}

// BuildResult is a rendered page of a query result
type BuildResult struct {
	RenderedPage
	Summary    string
	TotalPages int
}

// ResultBuilder runs content queries, splits their results into pages
// and stores multi-page results for later navigation.
type ResultBuilder struct {
	api        ContentAPI
	cache      *PageCache
	pageLength int
	logger     *slog.Logger
}

func NewResultBuilder(api ContentAPI, cache *PageCache, logger *slog.Logger) *ResultBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultBuilder{
		api:        api,
		cache:      cache,
		pageLength: DefaultPageLength,
		logger:     logger,
	}
}

// Build fetches req.Content and renders req.Page of it.
func (b *ResultBuilder) Build(ctx context.Context, req BuildRequest) (BuildResult, error) {
	logger := contextLoggerOr(ctx, b.logger)

	content, err := req.Content.Fetch(ctx, b.api)
	if err != nil {
		return BuildResult{}, err
	}

	blocks := content.Blocks
	if len(blocks) > maxResultBlocks {
		blocks = blocks[:maxResultBlocks]
	}
	pages := SplitPages(blocks, b.pageLength)
	if len(pages) == 0 {
		return BuildResult{}, &NotFoundError{}
	}

	if len(pages) > 1 {
		b.storePages(
			ctx,
			logger,
			req.InteractionID,
			CachedPage{
				UserID:     req.UserID,
				Title:      content.Title,
				Footer:     content.Footer,
				TotalPages: len(pages),
				Pages:      pages,
			},
		)
	}

	switch {
	case req.Page > len(pages):
		return BuildResult{}, ErrPageOutOfRangeHigh
	case req.Page <= 0:
		return BuildResult{}, ErrPageOutOfRangeLow
	}

	return BuildResult{
		RenderedPage: renderPage(
			content.Title,
			content.Footer,
			pages[req.Page-1],
			req.Page,
			len(pages),
		),
		Summary:    content.Summary,
		TotalPages: len(pages),
	}, nil
}

// storePages writes a multi-page result to the cache. Failures only
// affect later navigation, so they're logged rather than returned.
func (b *ResultBuilder) storePages(
	ctx context.Context,
	logger *slog.Logger,
	key string,
	page CachedPage,
) {
	err := b.cache.Put(ctx, key, page)
	if err == nil {
		logger.DebugContext(ctx, "cached pages", "key", key, "pages", page.TotalPages)
		return
	}

	var fallback *TierFallbackError
	switch {
	case errors.As(err, &fallback):
		logger.DebugContext(
			ctx,
			"cached pages locally",
			"key", key,
			"pages", page.TotalPages,
			"reason", fallback.Reason,
		)
	default:
		logger.ErrorContext(
			ctx,
			fmt.Sprintf("unable to cache pages for %q", key),
			tint.Err(err),
		)
	}
}
