package wsbot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	addBotPermissions = 274877925376
	flagIconURL       = "https://flagcdn.com/48x36/%s.png"
)

// randomVerseEmbed renders a single verse, in Turkish or English,
// followed by the Arabic text
func randomVerseEmbed(v *QuranVerse, turkish bool) *discordgo.MessageEmbed {
	var chapterTitle string
	lang := languageEnglish
	title := "Sura %d, %s"
	footer := "Quran: The Final Testament • Random Verse"

	if turkish {
		lang = languageTurkish
		title = "Sure %d, %s"
		footer = "Kuran: Son Ahit • Turkish"
	}
	if v.Chapter != nil {
		chapterTitle = v.Chapter.TitleEnglish
		if turkish {
			chapterTitle = v.Chapter.TitleTurkish
		}
	}

	return &discordgo.MessageEmbed{
		Title: truncate(fmt.Sprintf(title, v.ChapterNumber, chapterTitle), embedTitleLimit),
		Description: clampDescription(
			fmt.Sprintf(
				"**[%s]** %s\n\n%s",
				v.VerseID,
				localized(v.Text, lang),
				v.Text[languageArabic],
			),
		),
		Footer: &discordgo.MessageEmbedFooter{Text: footer},
		Color:  embedColor,
	}
}

func codeBlock(s string) string {
	return "```" + s + "```"
}

// prayerTimesEmbed renders the current prayer status for a location
func prayerTimesEmbed(p *PrayerTimesResponse) *discordgo.MessageEmbed {
	schedule := fmt.Sprintf(
		"Fajr: %s\nDhuhr: %s\nAsr: %s\nMaghrib: %s\nIsha: %s\n\nSunrise: %s",
		p.Times.Fajr,
		p.Times.Dhuhr,
		p.Times.Asr,
		p.Times.Maghrib,
		p.Times.Isha,
		p.Times.Sunrise,
	)

	embed := &discordgo.MessageEmbed{
		Title:       truncate(p.LocationString, embedTitleLimit),
		Description: p.StatusString,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Local Time", Value: codeBlock(p.LocalTime)},
			{Name: "Now", Value: codeBlock(capitalize(p.CurrentPrayer))},
			{
				Name: "Up Next",
				Value: codeBlock(
					fmt.Sprintf(
						"%s (%s left)",
						capitalize(p.UpcomingPrayer),
						p.UpcomingPrayerTimeLeft,
					),
				),
			},
			{Name: "Schedule", Value: codeBlock(schedule)},
			{
				Name: "Coordinates",
				Value: codeBlock(
					fmt.Sprintf("%v, %v", p.Coordinates.Latitude, p.Coordinates.Longitude),
				),
			},
		},
		Author: &discordgo.MessageEmbedAuthor{Name: "Prayer Times"},
		Color:  embedColor,
	}
	if p.CountryCode != "" {
		embed.Author.IconURL = fmt.Sprintf(flagIconURL, strings.ToLower(p.CountryCode))
	}
	if p.LocalTimezone != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: p.LocalTimezone}
	}
	return embed
}

func addBotURL(applicationID string) string {
	return fmt.Sprintf(
		"https://discord.com/oauth2/authorize?client_id=%s&permissions=%d&integration_type=0&scope=bot",
		applicationID,
		addBotPermissions,
	)
}

func addBotEmbed(applicationID string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Add this bot to your server",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Link", Value: addBotURL(applicationID)},
		},
		Color: embedColor,
	}
}
