package wsbot

import "github.com/bwmarrin/discordgo"

var (
	appCommandContexts = []discordgo.InteractionContextType{
		discordgo.InteractionContextPrivateChannel,
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
	}
	appCommandIntegrationTypes = []discordgo.ApplicationIntegrationType{
		discordgo.ApplicationIntegrationUserInstall,
		discordgo.ApplicationIntegrationGuildInstall,
	}
)

// appCommands returns every slash command the bot registers
func appCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		appCommandQuran(commandQuran, "Quran | English 🇺🇸"),
		appCommandQuran(commandEQuran, "Quran | Arabic 🇺🇸🇪🇬"),
		appCommandQuran(commandESQuran, "Quran | Spanish 🇪🇸"),
		appCommandChapter(),
		appCommandFootnote(),
		appCommandSearchQuran(),
		appCommandSearchMedia(),
		appCommandSearchNewsletters(),
		appCommandWordByWord(),
		appCommandRandomVerse(),
		appCommandPrayerTimes(),
		appCommandAddBot(),
	}
}

func newAppCommand(name string, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommand {
	contexts := append([]discordgo.InteractionContextType(nil), appCommandContexts...)
	integrationTypes := append([]discordgo.ApplicationIntegrationType(nil), appCommandIntegrationTypes...)
	return &discordgo.ApplicationCommand{
		Name:             name,
		Description:      description,
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         &contexts,
		IntegrationTypes: &integrationTypes,
		Options:          options,
	}
}

func localizations(tr string) map[discordgo.Locale]string {
	return map[discordgo.Locale]string{discordgo.Turkish: tr}
}

func yesChoice() []*discordgo.ApplicationCommandOptionChoice {
	return []*discordgo.ApplicationCommandOptionChoice{
		{Name: optionYes, Value: optionYes},
	}
}

func verseOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionString,
		Name:                     optionVerse,
		Description:              "Verse #:# (or #:#-#)",
		Required:                 true,
		NameLocalizations:        localizations("ayet"),
		DescriptionLocalizations: localizations("Ayet numarasını girin"),
	}
}

func noFootnotesOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionString,
		Name:                     optionNoFootnotes,
		Description:              "Ignore subtitles & footnotes?",
		Choices:                  yesChoice(),
		NameLocalizations:        localizations("yorum-yok"),
		DescriptionLocalizations: localizations("Altyazı ve dipnot yok mu?"),
	}
}

func queryOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        optionQuery,
		Description: description,
		Required:    true,
	}
}

func strictSearchOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        optionStrictSearch,
		Description: "Only match the exact phrase?",
		Choices:     yesChoice(),
	}
}

func appCommandQuran(name string, description string) *discordgo.ApplicationCommand {
	return newAppCommand(
		name,
		description,
		verseOption(),
		noFootnotesOption(),
		&discordgo.ApplicationCommandOption{
			Type:                     discordgo.ApplicationCommandOptionString,
			Name:                     optionWithTransliteration,
			Description:              "Include Arabic transliteration?",
			Choices:                  yesChoice(),
			NameLocalizations:        localizations("transliterasyon"),
			DescriptionLocalizations: localizations("transliterasyon içerir?"),
		},
	)
}

func appCommandChapter() *discordgo.ApplicationCommand {
	return newAppCommand(
		commandChapter,
		"Get an entire chapter of the Quran",
		&discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        optionChapter,
			Description: "Chapter number (1-114)",
			Required:    true,
		},
		noFootnotesOption(),
	)
}

func appCommandFootnote() *discordgo.ApplicationCommand {
	return newAppCommand(
		commandFootnote,
		"Get the footnote for a verse",
		verseOption(),
	)
}

func appCommandSearchQuran() *discordgo.ApplicationCommand {
	languages := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(supportedLanguages))
	for _, lang := range supportedLanguages {
		languages = append(
			languages,
			&discordgo.ApplicationCommandOptionChoice{Name: lang, Value: lang},
		)
	}
	return newAppCommand(
		commandSearchQuran,
		"Search the Quran",
		queryOption("Word or phrase to search for"),
		strictSearchOption(),
		&discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        optionLanguage,
			Description: "Search in another language",
			Choices:     languages,
		},
	)
}

func appCommandSearchMedia() *discordgo.ApplicationCommand {
	categories := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(mediaCategories))
	for _, category := range mediaCategories {
		categories = append(
			categories,
			&discordgo.ApplicationCommandOptionChoice{Name: category, Value: category},
		)
	}
	return newAppCommand(
		commandSearchMedia,
		"Search sermons, audio and programs",
		queryOption("Word or phrase to search for"),
		strictSearchOption(),
		&discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        optionSpecificCategory,
			Description: "Restrict the search to one category",
			Choices:     categories,
		},
	)
}

func appCommandSearchNewsletters() *discordgo.ApplicationCommand {
	return newAppCommand(
		commandSearchNewsletters,
		"Search the Submitters Perspectives newsletters",
		queryOption("Word or phrase to search for"),
		strictSearchOption(),
	)
}

func appCommandWordByWord() *discordgo.ApplicationCommand {
	return newAppCommand(
		commandWordByWord,
		"Get a word by word breakdown for any verse(s)",
		verseOption(),
	)
}

func appCommandRandomVerse() *discordgo.ApplicationCommand {
	cmd := newAppCommand(
		commandRandomVerse,
		"Get a random verse from the Quran",
		&discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        optionLanguage,
			Description: "Choose another language",
			Choices: []*discordgo.ApplicationCommandOptionChoice{
				{Name: languageTurkish, Value: languageTurkish},
			},
			NameLocalizations:        localizations("dil"),
			DescriptionLocalizations: localizations("Farklı dil?"),
		},
	)
	name := localizations("rastgele")
	desc := localizations("Rastgele ayet")
	cmd.NameLocalizations = &name
	cmd.DescriptionLocalizations = &desc
	return cmd
}

func appCommandPrayerTimes() *discordgo.ApplicationCommand {
	cmd := newAppCommand(
		commandPrayerTimes,
		"Look up live prayer times for any part of the world",
		&discordgo.ApplicationCommandOption{
			Type:                     discordgo.ApplicationCommandOptionString,
			Name:                     optionLocation,
			Description:              "You can enter a city, landmark, address, or exact coordinates",
			Required:                 true,
			NameLocalizations:        localizations("konum"),
			DescriptionLocalizations: localizations("Şehir mi yoksa yakındaki simge yapı mı?"),
		},
		&discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        optionPubliclyVisible,
			Description: "Make the result viewable to others in the chat (it's hidden by default)",
			Choices:     yesChoice(),
		},
		&discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        optionAsrAdjustment,
			Description: "Adjust asr calculation (midpoint)",
			Choices:     yesChoice(),
		},
	)
	name := localizations("namazvakitleri")
	desc := localizations("Bir şehir için namaz vakitlerini yükleyin")
	cmd.NameLocalizations = &name
	cmd.DescriptionLocalizations = &desc
	return cmd
}

func appCommandAddBot() *discordgo.ApplicationCommand {
	return newAppCommand(commandAddBot, "Add the bot to your server")
}
