package wsbot

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

const (
	languageEnglish = "english"
	languageTurkish = "turkish"
	languageSpanish = "spanish"
	languageArabic  = "arabic"

	quranSearchURL = "https://wikisubmission.org/quran?q="
	mediaSearchURL = "https://wikisubmission.org/search?q=%s&type=media"
	newsletterURL  = "https://www.masjidtucson.org/publications/books/sp/%d/%s/page%d.html"

	mediaFooter      = "Media • Search 🔎 • Verify all information. Transcripts derived using AI transcription on the original content."
	newsletterFooter = "Newsletters • Search 🔎"
	quranBookFooter  = "Quran: The Final Testament"

	// searchLinkThreshold is the match count above which summaries link
	// to the full search on the website
	searchLinkThreshold = 10

	// countCapThreshold is the count above which summaries show "350+"
	countCapThreshold = 348
)

// supportedLanguages are the translations the content API serves, in
// the order they're offered as command choices
var supportedLanguages = []string{
	languageEnglish,
	languageTurkish,
	languageSpanish,
	languageArabic,
	"french",
	"german",
	"persian",
	"russian",
	"swedish",
	"bahasa",
	"tamil",
	"bengali",
	"urdu",
}

// parseLanguage normalizes a language option, defaulting to english
func parseLanguage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if slices.Contains(supportedLanguages, s) {
		return s
	}
	return languageEnglish
}

// localized returns m[lang], falling back to english
func localized(m map[string]string, lang string) string {
	if v := m[lang]; v != "" {
		return v
	}
	return m[languageEnglish]
}

func capEntries[T any](s []T) []T {
	if len(s) > maxResultBlocks {
		return s[:maxResultBlocks]
	}
	return s
}

func countText(n int) string {
	if n > countCapThreshold {
		return "350+"
	}
	return strconv.Itoa(n)
}

func plural(n int, singular string, pluralForm string) string {
	if n > 1 {
		return pluralForm
	}
	return singular
}

// quranQuery looks up verses, chapters or search terms
type quranQuery struct {
	Query               string
	Language            string
	IncludeCommentary   bool
	FootnoteOnly        bool
	WithArabic          bool
	WithTransliteration bool
	Strict              bool

	// Search adds a match count summary
	Search bool
}

func (q quranQuery) Fetch(ctx context.Context, api ContentAPI) (PaginatedContent, error) {
	if strings.TrimSpace(q.Query) == "" {
		return PaginatedContent{}, ErrMissingQuery
	}
	resp, err := api.QueryQuran(
		ctx,
		q.Query,
		QuranQueryOptions{
			SearchOptions:     SearchOptions{Strict: q.Strict},
			Language:          parseLanguage(q.Language),
			IncludeWordByWord: q.WithTransliteration,
		},
	)
	if err != nil {
		return PaginatedContent{}, err
	}
	return q.format(resp)
}

func (q quranQuery) format(resp *QuranResponse) (PaginatedContent, error) {
	lang := parseLanguage(q.Language)
	content := PaginatedContent{
		Title:  resp.Metadata.FormattedChapterTitle,
		Footer: resp.Metadata.FormattedBookTitle,
	}

	switch resp.Type {
	case quranResultSearch:
		hits, err := resp.Hits()
		if err != nil {
			return content, err
		}
		for _, hit := range capEntries(hits) {
			if block := formatSearchHit(hit, lang); block != "" {
				content.Blocks = append(content.Blocks, block)
			}
		}
	default:
		verses, err := resp.Verses()
		if err != nil {
			return content, err
		}
		for _, v := range capEntries(verses) {
			if block := q.formatVerse(v, lang); block != "" {
				content.Blocks = append(content.Blocks, block)
			}
		}
	}

	if len(content.Blocks) == 0 {
		if q.FootnoteOnly {
			return content, &NotFoundError{Message: fmt.Sprintf("No footnote found for '%s'", q.Query)}
		}
		return content, &NotFoundError{Message: fmt.Sprintf("No verse(s) found with '%s'", q.Query)}
	}

	if q.Search {
		total := resp.TotalMatches
		if total == 0 {
			total = len(content.Blocks)
		}
		content.Summary = fmt.Sprintf(
			"Found **%s** %s with `%s`",
			countText(total),
			plural(total, "verse", "verses"),
			q.Query,
		)
		if resp.Type == quranResultSearch && total > searchLinkThreshold {
			content.Summary += fmt.Sprintf(
				"\n[Search on wikisubmission.org →](%s%s)",
				quranSearchURL,
				url.QueryEscape(q.Query),
			)
		}
	}
	return content, nil
}

func (q quranQuery) formatVerse(v QuranVerse, lang string) string {
	var parts []string

	if q.IncludeCommentary && !q.FootnoteOnly {
		if subtitle := localized(v.Subtitles, lang); subtitle != "" {
			parts = append(parts, "`"+subtitle+"`")
		}
	}

	if !q.FootnoteOnly {
		parts = append(parts, fmt.Sprintf("**[%s]** %s", v.VerseID, localized(v.Text, lang)))

		if q.WithTransliteration && len(v.WordByWord) > 0 {
			words := make([]string, 0, len(v.WordByWord))
			for _, w := range v.WordByWord {
				words = append(words, w.TransliteratedText)
			}
			parts = append(parts, "_"+strings.Join(words, " ")+"_")
		}

		if q.WithArabic {
			parts = append(
				parts,
				fmt.Sprintf("**[%s]** %s", v.VerseIDArabic, v.Text[languageArabic]),
			)
		}
	}

	if q.IncludeCommentary || q.FootnoteOnly {
		if footnote := localized(v.Footnotes, lang); footnote != "" {
			parts = append(parts, "*"+footnote+"*")
		}
	}

	return strings.TrimSpace(strings.Join(parts, pageSeparator))
}

func formatSearchHit(hit QuranSearchHit, lang string) string {
	field := func(prefix string) string {
		if v := hit.Field(prefix + lang); v != "" {
			return v
		}
		return hit.Field(prefix + languageEnglish)
	}

	switch hit.Hit {
	case "text":
		return fmt.Sprintf("**[%s]** %s", hit.VerseID, field(""))
	case "chapter":
		return fmt.Sprintf("**Chapter:** Sura %d, %s", hit.ChapterNumber, field("title_"))
	case "subtitle":
		return fmt.Sprintf("**[%s]** Subtitle: %s", hit.VerseID, field(""))
	case "footnote":
		return fmt.Sprintf("**[%s]** Footnote: *%s*", hit.VerseID, field(""))
	default:
		return ""
	}
}

// mediaSearch searches sermon/program transcripts
type mediaSearch struct {
	Query    string
	Strict   bool
	Category string
}

func (m mediaSearch) Fetch(ctx context.Context, api ContentAPI) (PaginatedContent, error) {
	if strings.TrimSpace(m.Query) == "" {
		return PaginatedContent{}, ErrMissingQuery
	}
	resp, err := api.QueryMedia(
		ctx,
		m.Query,
		SearchOptions{Strict: m.Strict, Category: m.Category},
	)
	if err != nil {
		return PaginatedContent{}, err
	}
	return m.format(resp)
}

func (m mediaSearch) format(resp *MediaResponse) (PaginatedContent, error) {
	total := len(resp.Data)
	if total == 0 {
		return PaginatedContent{}, &NotFoundError{
			Message: fmt.Sprintf("No media instances found with '%s'", m.Query),
		}
	}

	content := PaginatedContent{
		Title:  m.Query + " - Media Search",
		Footer: mediaFooter,
	}
	for _, r := range capEntries(resp.Data) {
		content.Blocks = append(
			content.Blocks,
			fmt.Sprintf(
				"[%s @ %s](https://youtu.be/%s?t=%s) - %s",
				r.Title,
				r.StartTimestamp,
				r.YoutubeID,
				r.YoutubeTimestamp,
				r.Transcript,
			),
		)
	}

	content.Summary = fmt.Sprintf(
		"Found **%s** %s with `%s`",
		countText(total),
		plural(total, "media instance", "media instances"),
		m.Query,
	)
	if total > searchLinkThreshold {
		content.Summary += "\n[Search on wikisubmission.org →](" +
			fmt.Sprintf(mediaSearchURL, url.QueryEscape(m.Query)) + ")"
	}
	return content, nil
}

// newsletterSearch searches the Submitters Perspectives archive
type newsletterSearch struct {
	Query  string
	Strict bool
}

func (n newsletterSearch) Fetch(ctx context.Context, api ContentAPI) (PaginatedContent, error) {
	if strings.TrimSpace(n.Query) == "" {
		return PaginatedContent{}, ErrMissingQuery
	}
	resp, err := api.QueryNewsletters(ctx, n.Query, SearchOptions{Strict: n.Strict})
	if err != nil {
		return PaginatedContent{}, err
	}
	return n.format(resp)
}

func (n newsletterSearch) format(resp *NewsletterResponse) (PaginatedContent, error) {
	total := len(resp.Data)
	if total == 0 {
		return PaginatedContent{}, &NotFoundError{
			Message: fmt.Sprintf("No newsletter instances found with '%s'", n.Query),
		}
	}

	content := PaginatedContent{
		Title:  n.Query + " - Newsletter Search",
		Footer: newsletterFooter,
	}
	for _, r := range capEntries(resp.Data) {
		month := strings.ToLower(r.Month)
		content.Blocks = append(
			content.Blocks,
			fmt.Sprintf(
				"[%d %s, page %d](%s) - %s",
				r.Year,
				capitalize(month),
				r.Page,
				fmt.Sprintf(newsletterURL, r.Year, month, r.Page),
				r.Content,
			),
		)
	}
	content.Summary = fmt.Sprintf(
		"Found **%d** newsletter instances with `%s`",
		total,
		n.Query,
	)
	return content, nil
}

// wordByWord breaks a single verse into its Arabic words
type wordByWord struct {
	Verse string
}

func (w wordByWord) Fetch(ctx context.Context, api ContentAPI) (PaginatedContent, error) {
	verse := strings.TrimSpace(w.Verse)
	if verse == "" {
		return PaginatedContent{}, ErrMissingQuery
	}
	if strings.Contains(verse, "-") || !strings.Contains(verse, ":") {
		return PaginatedContent{}, ErrSingleVerseOnly
	}
	resp, err := api.QueryQuran(
		ctx,
		verse,
		QuranQueryOptions{IncludeWordByWord: true, Language: languageEnglish},
	)
	if err != nil {
		return PaginatedContent{}, err
	}
	return w.format(resp)
}

func (w wordByWord) format(resp *QuranResponse) (PaginatedContent, error) {
	verses, err := resp.Verses()
	if err != nil {
		return PaginatedContent{}, err
	}
	if len(verses) == 0 || len(verses[0].WordByWord) == 0 {
		return PaginatedContent{}, &NotFoundError{
			Message: fmt.Sprintf("No verse(s) found with '%s'", w.Verse),
		}
	}

	content := PaginatedContent{
		Title:  w.Verse + " – Word by Word",
		Footer: quranBookFooter,
	}
	for _, word := range capEntries(verses[0].WordByWord) {
		content.Blocks = append(
			content.Blocks,
			fmt.Sprintf(
				"**%s (%s) (%s)**\n`%s`",
				word.TransliteratedText,
				word.ArabicText,
				word.RootWord,
				word.EnglishText,
			),
		)
	}
	return content, nil
}
