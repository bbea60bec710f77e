package wsbot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const (
	// DefaultPageLength is the soft bound used when splitting content
	// into pages, leaving room under embedDescriptionLimit
	DefaultPageLength = 4000

	embedTitleLimit       = 256
	embedDescriptionLimit = 4096
	embedEllipsis         = "..."
	embedColor            = 0x2C2F33

	// maxResultBlocks caps the number of result entries formatted into
	// pages for a single request
	maxResultBlocks = 350

	pageCustomIDPrefix = "page_"
	pageSeparator      = "\n\n"
)

var ErrMalformedPageID = errors.New("malformed page custom ID")

// SplitPages greedily packs blocks, in order, into pages of at most
// limit characters, joining blocks on the same page with a blank line.
// A block longer than limit gets a page of its own and is not split.
func SplitPages(blocks []string, limit int) []string {
	var pages []string
	var current strings.Builder
	currentLen := 0

	for _, block := range blocks {
		blockLen := utf8.RuneCountInString(block)
		add := blockLen
		if currentLen > 0 {
			add += utf8.RuneCountInString(pageSeparator)
		}

		if currentLen+add > limit {
			if currentLen > 0 {
				pages = append(pages, strings.TrimSpace(current.String()))
				current.Reset()
				current.WriteString(block)
				currentLen = blockLen
			} else {
				pages = append(pages, block)
			}
			continue
		}

		if currentLen > 0 {
			current.WriteString(pageSeparator)
		}
		current.WriteString(block)
		currentLen += add
	}

	if currentLen > 0 {
		pages = append(pages, strings.TrimSpace(current.String()))
	}
	return pages
}

// RenderedPage is one page of a result, ready to send
type RenderedPage struct {
	Embed      *discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

func (r RenderedPage) embeds() []*discordgo.MessageEmbed {
	return []*discordgo.MessageEmbed{r.Embed}
}

// webhookEdit returns the message edit that displays this page. A nil
// content leaves the message's existing text in place.
func (r RenderedPage) webhookEdit(content *string) *discordgo.WebhookEdit {
	embeds := r.embeds()
	components := r.Components
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	return &discordgo.WebhookEdit{
		Content:    content,
		Embeds:     &embeds,
		Components: &components,
	}
}

// renderPage builds the embed and navigation buttons for page (1-indexed)
// of totalPages.
func renderPage(title string, footer string, content string, page int, totalPages int) RenderedPage {
	embed := &discordgo.MessageEmbed{
		Title:       truncate(title, embedTitleLimit),
		Description: clampDescription(content),
		Color:       embedColor,
	}
	if f := pageFooter(footer, page, totalPages); f != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: f}
	}
	return RenderedPage{
		Embed:      embed,
		Components: pageButtons(page, totalPages),
	}
}

func pageFooter(footer string, page int, totalPages int) string {
	if totalPages <= 1 {
		return footer
	}
	suffix := fmt.Sprintf("Page %d/%d", page, totalPages)
	if footer == "" {
		return suffix
	}
	return footer + " • " + suffix
}

// clampDescription enforces the embed description limit, marking
// truncated content with an ellipsis
func clampDescription(s string) string {
	if utf8.RuneCountInString(s) <= embedDescriptionLimit {
		return s
	}
	return truncate(s, embedDescriptionLimit-len(embedEllipsis)) + embedEllipsis
}

// pageButtons returns the navigation row for page. "Previous" is shown
// after the first page and "Next" on every page but the last.
func pageButtons(page int, totalPages int) []discordgo.MessageComponent {
	if totalPages <= 1 {
		return nil
	}

	var buttons []discordgo.MessageComponent
	if page > 1 {
		buttons = append(
			buttons, discordgo.Button{
				Label:    "Previous page",
				Style:    discordgo.SecondaryButton,
				CustomID: encodePageCustomID(page - 1),
			},
		)
	}
	if page != totalPages {
		buttons = append(
			buttons, discordgo.Button{
				Label:    "Next page",
				Style:    discordgo.PrimaryButton,
				CustomID: encodePageCustomID(page + 1),
			},
		)
	}
	if len(buttons) == 0 {
		return nil
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: buttons},
	}
}

func encodePageCustomID(page int) string {
	return pageCustomIDPrefix + strconv.Itoa(page)
}

// decodePageCustomID parses the target page from a "page_<N>" button
// custom ID
func decodePageCustomID(customID string) (int, error) {
	n, ok := strings.CutPrefix(customID, pageCustomIDPrefix)
	if !ok || n == "" {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPageID, customID)
	}
	page, err := strconv.Atoi(n)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPageID, customID)
	}
	return page, nil
}
