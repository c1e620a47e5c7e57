// Package lang provides the immutable keyword and phrase registry consulted
// by the interruption classifier and the cancellation controller. Tables
// are statically constructed, loaded once per process, and never mutated at
// runtime. Lookups for languages without a table fall back to English.
package lang

import (
	"regexp"
	"strings"
)

// Language is an ISO-639-1 language code. The registry recognizes a closed
// set; anything else resolves to English tables.
type Language string

const (
	English Language = "en"
	Hindi   Language = "hi"
	Spanish Language = "es"
	French  Language = "fr"
)

// Parse normalizes a raw ISO-639-1 code. Region subtags are stripped
// ("en-US" -> "en"); unknown codes pass through and fall back to English
// at lookup time.
func Parse(code string) Language {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if code == "" {
		return English
	}
	return Language(code)
}

// KeywordKind identifies one keyword table within a language.
type KeywordKind int

const (
	KeywordUrgency KeywordKind = iota
	KeywordClarification
	KeywordCorrection
)

// keyword tables per language. Multi-word entries match as whole phrases.
var keywordTables = map[Language]map[KeywordKind][]string{
	English: {
		KeywordUrgency:       {"stop", "wait", "hold on", "hang on", "shut up", "enough", "pause", "one second"},
		KeywordClarification: {"what do you mean", "can you explain", "i don't understand", "could you clarify", "sorry what", "pardon", "what was that"},
		KeywordCorrection:    {"no", "not that", "that's wrong", "i meant", "actually", "incorrect", "that's not right"},
	},
	Hindi: {
		KeywordUrgency:       {"ruko", "rukiye", "bas", "thehro", "ek minute"},
		KeywordClarification: {"matlab kya hai", "samajh nahi aaya", "phir se boliye", "kya kaha"},
		KeywordCorrection:    {"nahi", "galat", "mera matlab tha", "aisa nahi"},
	},
	Spanish: {
		KeywordUrgency:       {"para", "espera", "alto", "un momento", "basta"},
		KeywordClarification: {"que quieres decir", "no entiendo", "puedes explicar", "perdon"},
		KeywordCorrection:    {"no", "eso no", "quise decir", "incorrecto"},
	},
	French: {
		KeywordUrgency:       {"arrete", "attends", "stop", "un instant"},
		KeywordClarification: {"que veux-tu dire", "je ne comprends pas", "peux-tu expliquer", "pardon"},
		KeywordCorrection:    {"non", "pas ca", "je voulais dire", "incorrect"},
	},
}

// acknowledgment phrases keyed by interruption kind. The generic
// "clarification" set is the last-resort fallback for kinds with no table
// entry.
var ackTables = map[Language]map[string][]string{
	English: {
		"clarification": {"Sure, go ahead.", "Of course, what would you like to know?", "Yes?", "I'm listening."},
		"correction":    {"Oh, let me correct that.", "Thanks for catching that.", "Got it, let me rephrase."},
		"urgent":        {"Okay.", "Alright, stopping."},
	},
	Hindi: {
		"clarification": {"Haan, boliye.", "Ji, kya jaanna chahenge?", "Main sun raha hoon."},
		"correction":    {"Theek hai, main sudhaar deta hoon.", "Samajh gaya, dobara kehta hoon."},
	},
	Spanish: {
		"clarification": {"Claro, adelante.", "Por supuesto, ¿qué desea saber?", "Le escucho."},
		"correction":    {"Entendido, lo corrijo.", "Gracias por avisar."},
	},
	French: {
		"clarification": {"Bien sûr, allez-y.", "Oui, que voulez-vous savoir ?", "Je vous écoute."},
		"correction":    {"D'accord, je corrige.", "Compris, je reformule."},
	},
}

// Registry holds precompiled whole-word matchers for every language and
// keyword kind.
type Registry struct {
	matchers map[Language]map[KeywordKind][]*regexp.Regexp
}

var defaultRegistry = newRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

func newRegistry() *Registry {
	r := &Registry{matchers: make(map[Language]map[KeywordKind][]*regexp.Regexp)}
	for language, kinds := range keywordTables {
		r.matchers[language] = make(map[KeywordKind][]*regexp.Regexp)
		for kind, words := range kinds {
			compiled := make([]*regexp.Regexp, 0, len(words))
			for _, w := range words {
				// Case-insensitive whole-word match; phrases keep their
				// internal spaces.
				compiled = append(compiled, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
			}
			r.matchers[language][kind] = compiled
		}
	}
	return r
}

// Match reports whether text contains any keyword of the given kind in the
// given language. Languages without a table use the English table.
func (r *Registry) Match(language Language, kind KeywordKind, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	kinds, ok := r.matchers[language]
	if !ok {
		kinds = r.matchers[English]
	}
	for _, m := range kinds[kind] {
		if m.MatchString(text) {
			return true
		}
	}
	return false
}

// AckPhrases returns the acknowledgment phrase set for an interruption kind.
// The fallback chain is: requested language and kind, English for the kind,
// then the generic clarification set.
func AckPhrases(language Language, kind string) []string {
	if table, ok := ackTables[language]; ok {
		if phrases, ok := table[kind]; ok && len(phrases) > 0 {
			return phrases
		}
	}
	if phrases, ok := ackTables[English][kind]; ok && len(phrases) > 0 {
		return phrases
	}
	return ackTables[English]["clarification"]
}
