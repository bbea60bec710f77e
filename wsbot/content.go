package wsbot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"resty.dev/v3"
)

const (
	contentUserAgent = "wikisubmission-discord"

	searchStrategyStrict  = "strict"
	searchStrategyDefault = "default"

	quranResultVerse          = "verse"
	quranResultMultipleVerses = "multiple_verses"
	quranResultChapter        = "chapter"
	quranResultSearch         = "search"
)

// ContentAPI queries the upstream Quran, media, newsletter and
// prayer time services. API-reported failures are returned as
// *QueryError.
type ContentAPI interface {
	QueryQuran(ctx context.Context, query string, opts QuranQueryOptions) (*QuranResponse, error)
	RandomVerse(ctx context.Context) (*QuranVerse, error)
	QueryMedia(ctx context.Context, query string, opts SearchOptions) (*MediaResponse, error)
	QueryNewsletters(ctx context.Context, query string, opts SearchOptions) (*NewsletterResponse, error)
	PrayerTimes(ctx context.Context, location string, asrAdjustment bool) (*PrayerTimesResponse, error)
}

type SearchOptions struct {
	Strict   bool
	Category string
}

func (o SearchOptions) strategy() string {
	if o.Strict {
		return searchStrategyStrict
	}
	return searchStrategyDefault
}

type QuranQueryOptions struct {
	SearchOptions
	Language          string
	IncludeWordByWord bool
}

type QuranResponse struct {
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
	Metadata     QuranMetadata   `json:"metadata"`
	TotalMatches int             `json:"totalMatches"`
}

type QuranMetadata struct {
	FormattedChapterTitle string `json:"formattedChapterTitle"`
	FormattedBookTitle    string `json:"formattedBookTitle"`
}

// Verses decodes Data for verse, multiple_verses and chapter results
func (r QuranResponse) Verses() ([]QuranVerse, error) {
	var verses []QuranVerse
	if len(r.Data) == 0 {
		return verses, nil
	}
	if err := json.Unmarshal(r.Data, &verses); err != nil {
		return nil, fmt.Errorf("error decoding verses: %w", err)
	}
	return verses, nil
}

// Hits decodes Data for search results
func (r QuranResponse) Hits() ([]QuranSearchHit, error) {
	var hits []QuranSearchHit
	if len(r.Data) == 0 {
		return hits, nil
	}
	if err := json.Unmarshal(r.Data, &hits); err != nil {
		return nil, fmt.Errorf("error decoding search hits: %w", err)
	}
	return hits, nil
}

type QuranVerse struct {
	VerseID       string            `json:"verse_id"`
	VerseIDArabic string            `json:"verse_id_arabic"`
	ChapterNumber int               `json:"chapter_number"`
	Text          map[string]string `json:"ws_quran_text"`
	Subtitles     map[string]string `json:"ws_quran_subtitles"`
	Footnotes     map[string]string `json:"ws_quran_footnotes"`
	WordByWord    []QuranWord       `json:"word_by_word"`
	Chapter       *QuranChapter     `json:"ws_quran_chapters"`
}

type QuranWord struct {
	TransliteratedText string `json:"transliterated_text"`
	ArabicText         string `json:"arabic_text"`
	RootWord           string `json:"root_word"`
	EnglishText        string `json:"english_text"`
}

type QuranChapter struct {
	TitleEnglish string `json:"title_english"`
	TitleTurkish string `json:"title_turkish"`
}

// QuranSearchHit is one search match. Text fields are keyed by
// language ("english", "title_english", ...), so every string field of
// the record is kept.
type QuranSearchHit struct {
	Hit           string
	VerseID       string
	ChapterNumber int
	fields        map[string]string
}

func (h *QuranSearchHit) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	h.fields = make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			h.fields[k] = val
		case float64:
			h.fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	h.Hit = h.fields["hit"]
	h.VerseID = h.fields["verse_id"]
	if n, err := strconv.Atoi(h.fields["chapter_number"]); err == nil {
		h.ChapterNumber = n
	}
	return nil
}

// Field returns the named field, or an empty string
func (h QuranSearchHit) Field(name string) string {
	return h.fields[name]
}

type MediaResponse struct {
	Data []MediaRecord `json:"data"`
}

type MediaRecord struct {
	Title            string `json:"title"`
	StartTimestamp   string `json:"start_timestamp"`
	YoutubeID        string `json:"youtube_id"`
	YoutubeTimestamp string `json:"youtube_timestamp"`
	Transcript       string `json:"transcript"`
}

type NewsletterResponse struct {
	Data []NewsletterRecord `json:"data"`
}

type NewsletterRecord struct {
	Year    int    `json:"year"`
	Month   string `json:"month"`
	Page    int    `json:"page"`
	Content string `json:"content"`
}

type PrayerTimesResponse struct {
	LocationString         string             `json:"location_string"`
	StatusString           string             `json:"status_string"`
	LocalTime              string             `json:"local_time"`
	CurrentPrayer          string             `json:"current_prayer"`
	UpcomingPrayer         string             `json:"upcoming_prayer"`
	UpcomingPrayerTimeLeft string             `json:"upcoming_prayer_time_left"`
	Times                  PrayerTimeSchedule `json:"times"`
	Coordinates            Coordinates        `json:"coordinates"`
	CountryCode            string             `json:"country_code"`
	LocalTimezone          string             `json:"local_timezone"`
}

type PrayerTimeSchedule struct {
	Fajr    string `json:"fajr"`
	Dhuhr   string `json:"dhuhr"`
	Asr     string `json:"asr"`
	Maghrib string `json:"maghrib"`
	Isha    string `json:"isha"`
	Sunrise string `json:"sunrise"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// apiErrorResponse is the failure envelope. The error may be a plain
// string or an object with a message.
type apiErrorResponse struct {
	Error apiErrorMessage `json:"error"`
}

type apiErrorMessage string

func (m *apiErrorMessage) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = apiErrorMessage(s)
		return nil
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*m = apiErrorMessage(obj.Message)
	return nil
}

// contentClient implements ContentAPI over HTTP
type contentClient struct {
	client         *resty.Client
	prayerTimesURL string
	timeout        time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger
}

func newContentClient(cfg *ContentAPIConfig, logger *slog.Logger) *contentClient {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.URL, "/"))

	rps := cfg.MaxRequestsPerSecond
	if rps <= 0 {
		rps = DefaultContentAPIMaxRequestsPerSecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultContentAPITimeout
	}

	return &contentClient{
		client:         client,
		prayerTimesURL: strings.TrimSuffix(cfg.PrayerTimesURL, "/"),
		timeout:        timeout,
		limiter:        rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		logger:         logger,
	}
}

func (c *contentClient) QueryQuran(
	ctx context.Context,
	query string,
	opts QuranQueryOptions,
) (*QuranResponse, error) {
	params := map[string]string{
		"q":         query,
		"highlight": "true",
		"strategy":  opts.strategy(),
	}
	if opts.Language != "" {
		params["language"] = opts.Language
	}
	if opts.IncludeWordByWord {
		params["include_word_by_word"] = "true"
	}

	var rv QuranResponse
	if err := c.get(ctx, "/quran", params, nil, &rv); err != nil {
		return nil, err
	}
	return &rv, nil
}

func (c *contentClient) RandomVerse(ctx context.Context) (*QuranVerse, error) {
	var rv struct {
		Data *QuranVerse `json:"data"`
	}
	if err := c.get(ctx, "/quran/random", nil, nil, &rv); err != nil {
		return nil, err
	}
	if rv.Data == nil {
		return nil, &NotFoundError{Message: "No verse found"}
	}
	return rv.Data, nil
}

func (c *contentClient) QueryMedia(
	ctx context.Context,
	query string,
	opts SearchOptions,
) (*MediaResponse, error) {
	params := map[string]string{
		"q":         query,
		"highlight": "true",
		"strategy":  opts.strategy(),
	}
	if opts.Category != "" {
		params["category"] = opts.Category
	}

	var rv MediaResponse
	if err := c.get(ctx, "/media", params, nil, &rv); err != nil {
		return nil, err
	}
	return &rv, nil
}

func (c *contentClient) QueryNewsletters(
	ctx context.Context,
	query string,
	opts SearchOptions,
) (*NewsletterResponse, error) {
	params := map[string]string{
		"q":         query,
		"highlight": "true",
		"strategy":  opts.strategy(),
	}

	var rv NewsletterResponse
	if err := c.get(ctx, "/newsletters", params, nil, &rv); err != nil {
		return nil, err
	}
	return &rv, nil
}

func (c *contentClient) PrayerTimes(
	ctx context.Context,
	location string,
	asrAdjustment bool,
) (*PrayerTimesResponse, error) {
	params := map[string]string{"highlight": "true"}
	if asrAdjustment {
		params["asr_adjustment"] = "true"
	}

	var rv PrayerTimesResponse
	err := c.get(
		ctx,
		c.prayerTimesURL+"/prayer-times/{location}",
		params,
		map[string]string{"location": location},
		&rv,
	)
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

// get sends a GET request and decodes a successful response into result.
// Non-2xx responses are decoded as an error envelope and returned as a
// *QueryError.
func (c *contentClient) get(
	ctx context.Context,
	path string,
	params map[string]string,
	pathParams map[string]string,
	result any,
) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logger := contextLoggerOr(ctx, c.logger)
	start := time.Now()

	body := &contentEnvelope{target: result}
	var errResp apiErrorResponse
	req := c.client.R().
		SetContext(reqCtx).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", contentUserAgent).
		SetResult(body).
		SetError(&errResp)
	if params != nil {
		req.SetQueryParams(params)
	}
	if pathParams != nil {
		req.SetPathParams(pathParams)
	}

	resp, err := req.Get(path)
	if resp != nil && resp.StatusCode() != 0 && !resp.IsSuccess() {
		status := resp.StatusCode()
		logger.DebugContext(
			ctx,
			"content request",
			"path", path,
			"status", status,
			"elapsed", time.Since(start),
		)
		// an undecodable error body falls back to the status text
		if errResp.Error != "" {
			return &QueryError{Message: string(errResp.Error), StatusCode: status}
		}
		return &QueryError{Message: http.StatusText(status), StatusCode: status}
	}
	if err != nil {
		logger.ErrorContext(ctx, "content request failed", "path", path, tint.Err(err))
		return fmt.Errorf("content request failed: %w", err)
	}

	logger.DebugContext(
		ctx,
		"content request",
		"path", path,
		"status", resp.StatusCode(),
		"elapsed", time.Since(start),
	)

	// some endpoints report failures with a 200 status
	if body.failure != "" {
		return &QueryError{Message: string(body.failure), StatusCode: resp.StatusCode()}
	}
	return nil
}

// contentEnvelope decodes a successful response into target, unless the
// body is an error envelope.
type contentEnvelope struct {
	failure apiErrorMessage
	target  any
}

func (e *contentEnvelope) UnmarshalJSON(b []byte) error {
	var errResp apiErrorResponse
	if json.Unmarshal(b, &errResp) == nil && errResp.Error != "" {
		e.failure = errResp.Error
		return nil
	}
	if err := json.Unmarshal(b, e.target); err != nil {
		return fmt.Errorf("error decoding content response: %w", err)
	}
	return nil
}
