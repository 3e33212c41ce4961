package usecase

import (
	"strconv"
	"strings"
)

// interestNone means the message selects none of the proposed offers.
const interestNone = 0

// assentRules is the deterministic first tier of interest
// classification: phrases that make the NLU selection call worth its
// latency. With a single proposed offer a hit selects it outright and
// no call is made.
var assentRules = []string{
	"oui",
	"yes",
	"ok",
	"d'accord",
	"daccord",
	"je veux",
	"je prends",
	"i want",
	"i take",
	"i'll take",
	"celui-ci",
	"celle-ci",
	"celui la",
	"celui-la",
	"this one",
	"that one",
	"interesse",
	"intéresse",
	"interested",
}

// keywordClassifier matches a message against a phrase allowlist after
// normalization.
type keywordClassifier struct {
	phrases []string
}

func newAssentClassifier() *keywordClassifier {
	return &keywordClassifier{phrases: assentRules}
}

func (c *keywordClassifier) Match(text string) bool {
	norm := normalizeText(text)
	if norm == "" {
		return false
	}
	for _, p := range c.phrases {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseRefusal interprets the NLU refusal classification, a single
// yes/no token. Anything that is not an affirmative reads as "not a
// refusal" so a garbled response never blocks a proposal.
func parseRefusal(raw string) bool {
	norm := strings.Trim(normalizeText(raw), ".!\"' ")
	return norm == "yes" || norm == "oui"
}

// parseInterestIndex interprets the NLU selection classification: an
// index in [1..n] or "none". An unparsable or out-of-range response
// falls back to the last proposed index, matching the upstream
// behavior pinned by the product.
func parseInterestIndex(raw string, n int) int {
	norm := strings.Trim(normalizeText(raw), ".!\"' ")
	if norm == "none" || norm == "aucun" || norm == "aucune" {
		return interestNone
	}
	idx, err := strconv.Atoi(norm)
	if err != nil || idx < 1 || idx > n {
		return n
	}
	return idx
}
