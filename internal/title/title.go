// Package title derives short display titles for conversations from their
// opening utterances. Everything here is a pure function of its inputs.
package title

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// Fallback is returned when no usable words survive.
	Fallback = "Conversation"
	// Placeholder is the title given to conversations before they are named.
	Placeholder = "New Chat"

	maxWords     = 6
	keywordCount = 4
)

var (
	wordPattern = regexp.MustCompile(`[a-z0-9]+(?:['-][a-z0-9]+)*`)
	datePattern = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}`)

	// Assistant openers that say nothing about the topic, e.g.
	// "Hello, I'm your assistant. How can I help you today?"
	boilerplateGreeting = regexp2.MustCompile(
		`^\W*(?:(?:hi|hello|hey|greetings)\b(?=.*\b(?:i'?m|i am|this is|my name is)\b)(?=.*\b(?:assistant|help|here)\b)|how (?:can|may) i (?:help|assist)\b)`,
		regexp2.IgnoreCase)
)

var fillers = []string{
	"hey there", "hi there", "hello there",
	"alright", "hello", "okay", "umm", "uhh", "well", "yeah",
	"hey", "hi", "ok", "um", "uh", "so", "yes", "oh", "please",
}

var stems = []string{
	"i'm looking for", "im looking for", "i am looking for",
	"i was wondering", "i'm wondering", "i have a question",
	"i would like", "i'd like", "i'm curious", "quick question",
	"do you know", "how do you", "how can i", "how do i", "how to",
	"what's", "whats", "what is", "what are", "what was", "what were",
	"can you", "could you", "would you", "will you", "can i", "could i",
	"let's talk", "lets talk", "let's", "i need", "i want",
	"tell me", "help me", "give me", "show me", "explain",
}

var topicMarkers = set("about", "on", "regarding", "around")

var possessives = set("your", "my", "our", "their", "his", "her")

// Words dropped from the start of a title only, never from the middle.
var leadingStop = set(
	"what", "whats", "what's", "when", "where", "why", "how",
	"can", "could", "would", "should", "will", "do", "does", "did",
	"is", "are", "am",
	"the", "a", "an", "to", "of", "for", "and", "or", "but", "with", "in", "on", "at", "by",
	"please", "ok", "okay", "well", "so", "um", "uh", "hey", "hi", "hello",
	"tell", "me", "i", "im", "i'm", "need", "want", "looking", "wondering", "thinking",
)

var trailingStop = set(
	"a", "an", "the", "and", "or", "but", "to", "of", "for", "with",
	"in", "on", "at", "by", "please", "is", "are", "me", "it", "that", "this", "so",
)

var keywordStop = union(leadingStop, trailingStop, possessives, set(
	"you", "we", "they", "he", "she", "be", "been", "have", "has", "had",
	"was", "were", "about", "there", "here", "just", "really", "like",
	"get", "know", "think", "some", "any", "sure", "thanks", "thank",
	"yes", "yeah", "no", "not", "can't", "don't", "help", "today",
))

// Small words stay lowercase unless they open or close the title.
var smallWords = set("a", "an", "and", "as", "at", "but", "by", "for", "in", "of", "on", "or", "the", "to", "with")

// Synthesize derives a title of at most six words. It prefers the user's first
// utterance and falls back to the assistant's unless that is a stock greeting.
func Synthesize(firstUser, firstAssistant string) string {
	user := normalize(firstUser)
	assistant := normalize(firstAssistant)
	if assistant != "" && IsBoilerplate(assistant) {
		assistant = ""
	}

	raw := user
	if raw == "" {
		raw = assistant
	}
	if raw == "" {
		return Fallback
	}

	s := stripLeading(strings.ToLower(raw))
	s = afterTopicMarker(s)

	tokens := make([]string, 0, maxWords)
	for _, w := range wordPattern.FindAllString(s, -1) {
		if !possessives[w] {
			tokens = append(tokens, w)
		}
	}
	for len(tokens) > 0 && leadingStop[tokens[0]] {
		tokens = tokens[1:]
	}
	tokens = trimTrailing(tokens)

	if len(tokens) < 2 {
		if kw := keywords(user, assistant); len(kw) > 0 {
			tokens = kw
		}
	}
	if len(tokens) > maxWords {
		tokens = trimTrailing(tokens[:maxWords])
	}
	if len(tokens) == 0 {
		return Fallback
	}
	return TitleCase(tokens)
}

// TitleCase capitalizes each word except interior small words. Applying it to
// its own output is stable.
func TitleCase(words []string) string {
	lower := cases.Lower(language.English)
	upper := cases.Title(language.English)
	out := make([]string, 0, len(words))
	for i, w := range words {
		lw := lower.String(w)
		if i > 0 && i < len(words)-1 && smallWords[lw] {
			out = append(out, lw)
			continue
		}
		out = append(out, upper.String(lw))
	}
	return strings.Join(out, " ")
}

// IsPlaceholder reports whether t is a default name that may be replaced
// automatically: empty, "New Chat..." or a bare date stamp.
func IsPlaceholder(t string) bool {
	s := strings.ToLower(strings.TrimSpace(t))
	if s == "" {
		return true
	}
	return strings.HasPrefix(s, "new chat") || datePattern.MatchString(s)
}

// IsBoilerplate reports whether s is a stock assistant greeting.
func IsBoilerplate(s string) bool {
	ok, err := boilerplateGreeting.MatchString(normalize(s))
	return err == nil && ok
}

func normalize(s string) string {
	s = strings.NewReplacer("’", "'", "‘", "'").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func stripLeading(s string) string {
	for {
		next, ok := cutAny(s, fillers)
		if !ok {
			next, ok = cutAny(s, stems)
		}
		if !ok {
			return s
		}
		s = next
	}
}

// cutAny removes the first phrase in phrases that s starts with as whole words.
func cutAny(s string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if !strings.HasPrefix(s, p) {
			continue
		}
		rest := s[len(p):]
		if r, _ := utf8.DecodeRuneInString(rest); rest != "" && isWordRune(r) {
			continue
		}
		return strings.TrimLeftFunc(rest, func(r rune) bool { return !isWordRune(r) }), true
	}
	return s, false
}

func trimTrailing(tokens []string) []string {
	for len(tokens) > 0 && trailingStop[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

func afterTopicMarker(s string) string {
	words := strings.Fields(s)
	for i, w := range words[:max(len(words)-1, 0)] {
		if topicMarkers[strings.TrimFunc(w, func(r rune) bool { return !isWordRune(r) })] {
			return strings.Join(words[i+1:], " ")
		}
	}
	return s
}

// keywords pools both utterances and returns the longest distinct non-stop words.
func keywords(utterances ...string) []string {
	seen := map[string]bool{}
	var pool []string
	for _, u := range utterances {
		for _, w := range wordPattern.FindAllString(strings.ToLower(u), -1) {
			if keywordStop[w] || seen[w] {
				continue
			}
			seen[w] = true
			pool = append(pool, w)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return utf8.RuneCountInString(pool[i]) > utf8.RuneCountInString(pool[j])
	})
	if len(pool) > keywordCount {
		pool = pool[:keywordCount]
	}
	return pool
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func union(sets ...map[string]bool) map[string]bool {
	m := map[string]bool{}
	for _, s := range sets {
		for w := range s {
			m[w] = true
		}
	}
	return m
}
