package proposal

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Validator holds the content quality rules applied to every generated
// draft before it can be submitted.
type Validator struct {
	MinLength int
	MaxLength int
}

// NewValidator returns a validator with the production limits.
func NewValidator(minLength, maxLength int) *Validator {
	if minLength <= 0 {
		minLength = 200
	}
	if maxLength <= minLength {
		maxLength = 800
	}
	return &Validator{MinLength: minLength, MaxLength: maxLength}
}

var boilerplatePhrases = []string{
	"i am an expert",
	"check my portfolio",
	"trust me",
	"kindly hire me",
	"dear sir",
	"dear madam",
	"hope you are doing well",
	"thanks for reading",
	"i have rich experience",
	"i can provide a complete solution",
}

var densityKeywords = []string{
	"python", "fastapi", "n8n", "api", "automation", "workflow", "django", "flask",
}

var structuralKeywords = []string{
	"plan", "technical", "implementation", "delivery", "architecture", "approach", "solution", "milestone", "timeline",
}

// conceptTerms are project-specific anchors: when the description names
// one, the proposal is expected to engage with it.
var conceptTerms = []string{
	"state machine", "otp", "webhook", "pagination", "oauth", "stripe",
	"paypal", "scraping", "migration", "dashboard", "realtime",
	"real-time", "caching", "chatbot", "telegram", "shopify",
	"wordpress", "cron", "etl", "ocr",
}

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// Validate runs every content rule and returns pass/fail plus the
// itemized issues used as retry feedback. expectedQuote of 0 disables
// the quote consistency rule.
func (v *Validator) Validate(text, title, description string, expectedQuote float64) (bool, []string) {
	var issues []string

	if n := len(text); n < v.MinLength {
		issues = append(issues, fmt.Sprintf("proposal too short (%d < %d chars)", n, v.MinLength))
	} else if n > v.MaxLength {
		issues = append(issues, fmt.Sprintf("proposal too long (%d > %d chars)", n, v.MaxLength))
	}

	lower := strings.ToLower(text)

	boilerplate := 0
	for _, phrase := range boilerplatePhrases {
		if strings.Contains(lower, phrase) {
			boilerplate++
		}
	}
	if boilerplate >= 3 {
		issues = append(issues, fmt.Sprintf("too much template boilerplate (%d phrases)", boilerplate))
	}

	words := wordPattern.FindAllString(lower, -1)
	if len(words) > 20 {
		matched := 0
		for _, keyword := range densityKeywords {
			if strings.Contains(lower, keyword) {
				matched++
			}
		}
		if float64(matched)/float64(len(words)) > 0.35 {
			issues = append(issues, "keyword stuffing detected, write naturally")
		}
	}

	titleWords := tokenSet(strings.ToLower(title))
	if len(titleWords) > 5 {
		proposalWords := tokenSet(lower)
		shared := 0
		for word := range titleWords {
			if proposalWords[word] {
				shared++
			}
		}
		if shared < 2 {
			issues = append(issues, "proposal does not reference the project title keywords")
		}
	}

	structural := 0
	for _, keyword := range structuralKeywords {
		if strings.Contains(lower, keyword) {
			structural++
		}
	}
	if structural < 1 {
		issues = append(issues, "missing structural language (plan, technical approach, delivery)")
	}

	if dupes, total := duplicateSentences(text); dupes >= 2 && total > 3 {
		issues = append(issues, fmt.Sprintf("repeated sentences (%d duplicates)", dupes))
	}

	lines := strings.Split(text, "\n")
	blank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank++
		}
	}
	if float64(blank) > float64(len(lines))*0.3 {
		issues = append(issues, fmt.Sprintf("too many blank lines (%d/%d)", blank, len(lines)))
	}

	if missing := missingAnchors(lower, description); len(missing) > 0 {
		issues = append(issues, "proposal ignores project concepts: "+strings.Join(missing, ", "))
	}

	if expectedQuote > 0 {
		if candidates := QuoteCandidates(text); len(candidates) > 0 && !quoteMatches(candidates, expectedQuote) {
			issues = append(issues, fmt.Sprintf("quoted amount does not match the bid amount %.2f", expectedQuote))
		}
	}

	return len(issues) == 0, issues
}

// ContainsCJK reports whether the text includes any Han, Hiragana,
// Katakana, or Hangul rune. Marketplace proposals must be English, so
// any hit is a hard failure.
func ContainsCJK(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}

func missingAnchors(lowerProposal, description string) []string {
	terms := anchorsFromDescription(description)
	if len(terms) == 0 {
		return nil
	}

	required := 2
	if len(terms) < required {
		required = len(terms)
	}

	covered := 0
	var missing []string
	for _, term := range terms {
		if strings.Contains(lowerProposal, term) {
			covered++
		} else {
			missing = append(missing, term)
		}
	}

	if covered >= required {
		return nil
	}
	return missing
}

func anchorsFromDescription(description string) []string {
	lower := strings.ToLower(description)

	var found []string
	for _, term := range conceptTerms {
		if strings.Contains(lower, term) {
			found = append(found, term)
		}
	}
	return found
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "need": true, "needed": true, "looking": true,
	"want": true, "build": true, "using": true, "into": true, "your": true,
}

func tokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, word := range wordPattern.FindAllString(text, -1) {
		if len(word) > 3 && !stopwords[word] {
			set[word] = true
		}
	}
	return set
}

func duplicateSentences(text string) (dupes, total int) {
	sentences := regexp.MustCompile(`[.!?]`).Split(text, -1)
	seen := map[string]bool{}

	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		total++
		if seen[sentence] {
			dupes++
		}
		seen[sentence] = true
	}
	return dupes, total
}

var quotePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$\s*((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)\s*(?:usd|eur|gbp|cad|aud|sgd|inr|cny)\b`),
	regexp.MustCompile(`(?i)(?:budget|quote|bid|price)[^0-9\n]{0,80}((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)`),
}

// QuoteCandidates extracts every monetary amount the proposal appears
// to quote, deduplicated.
func QuoteCandidates(text string) []float64 {
	var values []float64
	for _, pattern := range quotePatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			raw := strings.ReplaceAll(match[1], ",", "")
			var value float64
			if _, err := fmt.Sscanf(raw, "%f", &value); err == nil {
				values = append(values, value)
			}
		}
	}

	var deduped []float64
	for _, value := range values {
		exists := false
		for _, existing := range deduped {
			if math.Abs(value-existing) < 0.01 {
				exists = true
				break
			}
		}
		if !exists {
			deduped = append(deduped, value)
		}
	}
	return deduped
}

func quoteMatches(candidates []float64, amount float64) bool {
	tolerance := math.Max(1.0, amount*0.12)
	for _, candidate := range candidates {
		if math.Abs(candidate-amount) <= tolerance {
			return true
		}
	}
	return false
}

// AlignWithAmount appends an explicit bid amount line when the draft
// quotes numbers inconsistent with the final amount. Consistent or
// number-free drafts pass through unchanged.
func AlignWithAmount(text string, amount float64, currency string) string {
	candidates := QuoteCandidates(text)
	if len(candidates) == 0 || quoteMatches(candidates, amount) {
		return text
	}

	return strings.TrimRight(text, " \n") +
		fmt.Sprintf("\n\nFinal bid amount for this proposal: %.2f %s.", amount, currency)
}
