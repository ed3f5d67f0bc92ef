// Package related derives follow-up question suggestions from a finished
// assistant reply using fixed text heuristics. No model is consulted and the
// output depends only on the input text.
package related

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// MaxQuestions is the most suggestions Extract returns.
const MaxQuestions = 3

// minContentLength is the shortest cleaned reply worth analysing.
const minContentLength = 50

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "this": {}, "that": {}, "with": {},
	"from": {}, "your": {}, "have": {}, "would": {}, "what": {}, "when": {},
	"where": {}, "why": {}, "how": {}, "which": {}, "who": {}, "whom": {}, "whose": {},
}

var (
	citationRe   = regexp.MustCompile(`\[\d+\]`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	markdownRe   = regexp.MustCompile("[*_`#]")
	spaceRe      = regexp.MustCompile(`\s+`)
	nonAlnumRe   = regexp.MustCompile(`[^a-zA-Z0-9]`)
	properNounRe = regexp.MustCompile(`(?:^|\s)([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)
)

var techTermPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Z][a-z]+Script`),
	regexp.MustCompile(`[A-Z][a-z]*(?:DB|API|SDK|UI|UX)`),
	regexp.MustCompile(`(?:Node|React|Vue|Angular|Express|Next|Nuxt)[A-Za-z]*`),
	regexp.MustCompile(`[A-Za-z]+\.js`),
	regexp.MustCompile(`HTML|CSS|SQL|JSON|XML|YAML|HTTP|HTTPS|REST|GraphQL`),
}

// phraseTemplate is emitted for a key phrase when any trigger occurs in the text.
type phraseTemplate struct {
	triggers []string
	format   string
}

var phraseTemplates = []phraseTemplate{
	{[]string{"implement", "create", "build"}, "How would you implement %s in a real-world application?"},
	{[]string{"compare", "versus", "difference"}, "What are the advantages of %s compared to alternatives?"},
	{[]string{"practice", "pattern", "approach"}, "What are the best practices when working with %s?"},
	{[]string{"performance", "optimize", "efficient"}, "How can %s be optimized for better performance?"},
}

var termTemplates = []string{
	"What are the key features of %s?",
	"How does %s work under the hood?",
	"What problems does %s solve?",
}

var entityTemplates = []string{
	"How is %s typically used in this context?",
	"What makes %s important?",
}

type domainRule struct {
	triggers  []string
	questions [2]string
}

var domainRules = []domainRule{
	{
		[]string{"javascript", "typescript", "react"},
		[2]string{
			"What JavaScript patterns would be most effective here?",
			"How would you structure this in a modern React application?",
		},
	},
	{
		[]string{"database", "sql", "nosql"},
		[2]string{
			"Which database schema would be most efficient for this use case?",
			"How would you optimize the database queries for this scenario?",
		},
	},
	{
		[]string{"api", "rest", "graphql"},
		[2]string{
			"What API design principles should be applied in this situation?",
			"How would you handle authentication and authorization for this API?",
		},
	},
	{
		[]string{"security", "auth", "encrypt"},
		[2]string{
			"What security considerations are important for this implementation?",
			"How would you protect against common security vulnerabilities here?",
		},
	},
}

// genericPhrases never appear in a returned question.
var genericPhrases = []string{
	"this in simpler terms",
	"key takeaways",
	"relate to what we discussed",
}

// Clean strips citation markers, inline HTML and markdown emphasis, then
// collapses whitespace.
func Clean(content string) string {
	s := citationRe.ReplaceAllString(content, "")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = markdownRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Extract returns up to MaxQuestions follow-up questions for content.
// Short replies yield none, and no generic question is ever substituted.
func Extract(content string) []string {
	clean := Clean(content)
	if utf8.RuneCountInString(clean) < minContentLength {
		return nil
	}
	questions := generate(clean)
	if len(questions) == 0 {
		return nil
	}
	return selectDiverse(questions)
}

func generate(content string) []string {
	lower := strings.ToLower(content)
	var out []string

	phrases := keyPhrases(content)
	for _, phrase := range head(phrases, 5) {
		for _, tpl := range phraseTemplates {
			if containsAny(lower, tpl.triggers) {
				out = append(out, fmt.Sprintf(tpl.format, phrase))
			}
		}
	}

	for _, term := range head(technicalTerms(content), 3) {
		for _, tpl := range termTemplates {
			out = append(out, fmt.Sprintf(tpl, term))
		}
	}

	for _, entity := range head(properNouns(content), 3) {
		for _, tpl := range entityTemplates {
			out = append(out, fmt.Sprintf(tpl, entity))
		}
	}

	for _, rule := range domainRules {
		if containsAny(lower, rule.triggers) {
			out = append(out, rule.questions[0], rule.questions[1])
		}
	}

	filtered := out[:0]
	for _, q := range out {
		if !containsAny(strings.ToLower(q), genericPhrases) {
			filtered = append(filtered, q)
		}
	}
	return filtered
}

// keyPhrases returns distinct two-word then three-word windows in order of appearance.
func keyPhrases(content string) []string {
	fields := strings.Fields(content)
	words := make([]string, len(fields))
	for i, f := range fields {
		words[i] = nonAlnumRe.ReplaceAllString(f, "")
	}

	var phrases []string
	for i := 0; i+1 < len(words); i++ {
		w1, w2 := words[i], words[i+1]
		if len(w1) > 3 && len(w2) > 3 && !isStopword(w1) && !isStopword(w2) {
			phrases = append(phrases, w1+" "+w2)
		}
	}
	for i := 0; i+2 < len(words); i++ {
		w1, w2, w3 := words[i], words[i+1], words[i+2]
		if len(w1) > 2 && len(w2) > 2 && len(w3) > 2 && !isStopword(w1) && !isStopword(w3) {
			phrases = append(phrases, w1+" "+w2+" "+w3)
		}
	}
	return dedupe(phrases)
}

func technicalTerms(content string) []string {
	var terms []string
	for _, re := range techTermPatterns {
		terms = append(terms, re.FindAllString(content, -1)...)
	}
	return dedupe(terms)
}

func properNouns(content string) []string {
	var nouns []string
	for _, m := range properNounRe.FindAllString(content, -1) {
		noun := strings.TrimSpace(m)
		if len(noun) > 3 && !isStopword(noun) {
			nouns = append(nouns, noun)
		}
	}
	return dedupe(nouns)
}

// selectDiverse prefers one How, one What and one Why question, then fills
// the remaining slots in original order.
func selectDiverse(questions []string) []string {
	unique := dedupe(questions)
	if len(unique) <= MaxQuestions {
		return unique
	}

	var how, what, why, other []string
	for _, q := range unique {
		l := strings.ToLower(q)
		switch {
		case strings.HasPrefix(l, "how"):
			how = append(how, q)
		case strings.HasPrefix(l, "what"):
			what = append(what, q)
		case strings.HasPrefix(l, "why"):
			why = append(why, q)
		default:
			other = append(other, q)
		}
	}

	result := make([]string, 0, MaxQuestions)
	for _, group := range [][]string{how, what, why, other} {
		if len(result) < MaxQuestions && len(group) > 0 {
			result = append(result, group[0])
		}
	}
	for _, q := range unique {
		if len(result) >= MaxQuestions {
			break
		}
		if !slices.Contains(result, q) {
			result = append(result, q)
		}
	}
	return result
}

func isStopword(w string) bool {
	_, ok := stopwords[strings.ToLower(w)]
	return ok
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func head(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}
