package dialog

// Keyword tables for the intent classification chain. Matching is
// case-insensitive; accented and unaccented spellings are listed explicitly
// per supported language rather than normalized.

var (
	helpKeywords = []string{"help"}

	menuKeywords      = []string{"menu", "menú"}
	supportKeywords   = []string{"support", "ayuda"}
	dashboardKeywords = []string{"dashboard", "panel", "tablero"}

	optOutKeywords = []string{"cancel", "end", "quit", "stop", "stopall", "unsubscribe"}
	optInKeywords  = []string{"start"}

	demoKeywords = []string{"demo", "demostracion", "demostración"}

	startDrillKeywords = []string{"start", "empezar", "comenzar"}
	nextDrillKeywords  = []string{"more", "mas", "más"}

	nameChangeKeywords     = []string{"name", "nombre"}
	languageChangeKeywords = []string{"lang", "language", "idioma"}
	scheduleChangeKeywords = []string{"schedule", "calendario", "horario"}

	// Matched as substrings, not whole messages: "thank" covers "thanks"
	// and "thank you", "obrigad" covers "obrigado" and "obrigada".
	thankYouPhrases = []string{"thank", "gracias", "merci", "obrigad", "谢谢"}
)

func matchesKeyword(content string, keywords []string) bool {
	for _, k := range keywords {
		if content == k {
			return true
		}
	}
	return false
}
