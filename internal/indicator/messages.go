package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish locale = "en"
	localeItalian locale = "it"
)

type messages struct {
	listening string
	thinking  string
	errorText string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "it") {
		return localeItalian
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeItalian:
		return messages{
			listening: "In ascolto…",
			thinking:  "Sto pensando…",
			errorText: "Errore dell'assistente",
		}
	default:
		return messages{
			listening: "Listening…",
			thinking:  "Thinking…",
			errorText: "Assistant error",
		}
	}
}
