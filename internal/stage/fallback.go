package stage

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Keyword heuristics used when the classifier output cannot be parsed.
// Phrases are matched on whole folded words.

var hiringPhrases = []string{
	"hiring", "we're hiring", "we are hiring", "join our team", "join us",
	"open role", "open roles", "open position", "job opening", "now recruiting",
	"looking to hire", "apply now", "vacancy", "vacancies",
	"estamos contratando", "wir suchen", "nous recrutons",
}

var seekerPhrases = []string{
	"open to work", "opentowork", "looking for a job", "looking for my next",
	"seeking a new role", "seeking new opportunities",
}

var languageStopwords = map[string][]string{
	"en": {"the", "and", "we", "are", "for", "with", "our", "you", "is", "a"},
	"es": {"el", "la", "que", "para", "con", "estamos", "nuestro", "y", "los"},
	"de": {"und", "wir", "für", "mit", "der", "die", "das", "ist", "unser"},
	"fr": {"nous", "pour", "avec", "les", "des", "est", "notre", "et", "une"},
	"pt": {"para", "com", "estamos", "nós", "uma", "nosso", "e", "os", "vaga"},
}

var countryPhrases = map[string][]string{
	"US": {"united states", "usa", "new york", "san francisco", "seattle", "austin", "chicago", "boston"},
	"GB": {"united kingdom", "uk", "london", "manchester", "edinburgh"},
	"DE": {"germany", "deutschland", "berlin", "munich", "münchen", "hamburg"},
	"FR": {"france", "paris", "lyon"},
	"ES": {"spain", "españa", "madrid", "barcelona"},
	"CA": {"canada", "toronto", "vancouver", "montreal"},
	"IN": {"india", "bangalore", "bengaluru", "mumbai", "hyderabad"},
	"BR": {"brazil", "brasil", "são paulo", "rio de janeiro"},
	"NL": {"netherlands", "amsterdam", "rotterdam"},
	"AU": {"australia", "sydney", "melbourne"},
}

var categoryPhrases = map[string][]string{
	"Tech": {
		"engineer", "engineers", "developer", "developers", "software", "backend", "frontend",
		"full stack", "devops", "sre", "data scientist", "machine learning", "golang", "python", "cto",
	},
	"Sales": {"sales", "account executive", "sdr", "bdr", "business development", "account manager"},
	"Marketing": {"marketing", "growth", "seo", "content writer", "brand", "social media manager", "cmo"},
	"Finance": {"finance", "accountant", "accounting", "controller", "cfo", "financial analyst", "bookkeeper"},
	"Operations": {"operations", "logistics", "supply chain", "office manager", "coo", "project manager"},
	"Healthcare": {"nurse", "nurses", "physician", "doctor", "clinical", "healthcare", "pharmacist"},
}

// words folds s and splits it into letter/digit runs, joined by single
// spaces and padded so phrase lookups match whole words.
func words(s string) string {
	folded := cases.Fold().String(s)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(fields, " ") + " "
}

func countPhrases(text string, phrases []string) int {
	n := 0
	for _, phrase := range phrases {
		if strings.Contains(text, words(phrase)) {
			n++
		}
	}
	return n
}

func fallbackIntent(text string) (bool, string) {
	w := words(text)
	if countPhrases(w, seekerPhrases) > 0 {
		return false, "keyword fallback: job seeker phrasing"
	}
	if countPhrases(w, hiringPhrases) > 0 {
		return true, "keyword fallback: hiring phrasing"
	}
	return false, "keyword fallback: no hiring phrasing"
}

func fallbackLanguage(text string) string {
	w := words(text)
	best, bestScore := "", 0
	for _, lang := range []string{"en", "es", "de", "fr", "pt"} {
		if score := countPhrases(w, languageStopwords[lang]); score > bestScore {
			best, bestScore = lang, score
		}
	}
	return best
}

func fallbackCountry(texts ...string) string {
	w := words(strings.Join(texts, " "))
	best, bestScore := "", 0
	for _, code := range []string{"US", "GB", "DE", "FR", "ES", "CA", "IN", "BR", "NL", "AU"} {
		if score := countPhrases(w, countryPhrases[code]); score > bestScore {
			best, bestScore = code, score
		}
	}
	return best
}

// fallbackCategory returns the allowed category with the most keyword hits,
// or "" when nothing matches.
func fallbackCategory(text string, allowed []string) string {
	w := words(text)
	best, bestScore := "", 0
	for _, category := range allowed {
		if score := countPhrases(w, categoryKeywords(category)); score > bestScore {
			best, bestScore = category, score
		}
	}
	return best
}

func categoryKeywords(category string) []string {
	for name, phrases := range categoryPhrases {
		if strings.EqualFold(name, category) {
			return phrases
		}
	}
	return nil
}
