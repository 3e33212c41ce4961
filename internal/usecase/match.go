package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/domain"
)

const (
	maxMatches     = 5
	maxSuggestions = 3
	// budgetTolerance is the ±25% price window around the stated budget.
	budgetTolerance = 0.25
)

// furnishedKeywords trigger the furnished category group instead of a
// plain substring search when matching property offers.
var furnishedKeywords = []string{"meubl", "furnish"}

// furnishedCategories is the fixed category set matched by a furnished
// query.
var furnishedCategories = []string{
	"meuble",
	"studio meuble",
	"appartement meuble",
	"furnished",
	"furnished studio",
	"furnished apartment",
}

// MatchResult holds the ranked matches plus near-miss suggestions.
// Ordering follows catalog order; there is no relevance ranking beyond
// filter order.
type MatchResult struct {
	Matches     []domain.Offer
	Suggestions []domain.Offer
}

// ProposedIDs returns the ids of the batch that will be shown to the
// user: matches when any exist, suggestions otherwise.
func (r MatchResult) ProposedIDs() []string {
	batch := r.Matches
	if len(batch) == 0 {
		batch = r.Suggestions
	}
	ids := make([]string, 0, len(batch))
	for _, o := range batch {
		ids = append(ids, o.ID)
	}
	return ids
}

// Matcher maps (offerType, town, service, budget) to catalog offers via
// a four-stage funnel: full catalog → town filter → service filter →
// budget filter. The service filter never narrows the set to zero.
type Matcher struct {
	inventory Inventory
}

func NewMatcher(inv Inventory) (*Matcher, error) {
	if inv == nil {
		return nil, errors.New("usecase: inventory must not be nil")
	}
	return &Matcher{inventory: inv}, nil
}

// Match runs the funnel. Offers whose id appears in exclude are removed
// from both matches and suggestions; callers pass the last proposed ids
// only when the current turn was classified as a refusal.
func (m *Matcher) Match(ctx context.Context, offerType, town, service string, budget float64, exclude []string) (MatchResult, error) {
	catalog, err := m.inventory.ListOffers(ctx, offerType)
	if err != nil {
		return MatchResult{}, fmt.Errorf("usecase: load catalog: %w", err)
	}

	townFiltered := filterOffers(catalog, func(o domain.Offer) bool {
		return townMatches(o.Town, town)
	})

	serviceFiltered := filterOffers(townFiltered, func(o domain.Offer) bool {
		return serviceMatches(o, service)
	})
	// The service term narrows but never empties the candidate set.
	if len(serviceFiltered) == 0 {
		serviceFiltered = townFiltered
	}

	matches := filterOffers(serviceFiltered, func(o domain.Offer) bool {
		return inBudget(o.Price, budget)
	})
	matches = excludeIDs(matches, exclude)
	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}

	var suggestions []domain.Offer
	if len(matches) == 0 {
		suggestions = excludeIDs(filterOffers(townFiltered, func(o domain.Offer) bool {
			return inBudget(o.Price, budget)
		}), exclude)
		if len(suggestions) > maxSuggestions {
			suggestions = suggestions[:maxSuggestions]
		}
	}

	return MatchResult{Matches: matches, Suggestions: suggestions}, nil
}

func filterOffers(offers []domain.Offer, keep func(domain.Offer) bool) []domain.Offer {
	out := make([]domain.Offer, 0, len(offers))
	for _, o := range offers {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// townMatches keeps an offer iff either normalized town is a substring
// of the other, which tolerates partial city names on both sides
// ("Douala" vs "douala akwa").
func townMatches(offerTown, userTown string) bool {
	a := normalizeText(offerTown)
	b := normalizeText(userTown)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// serviceMatches searches the service term in description/category for
// properties and additionally in brand/model/name for vehicles. A
// furnished query matches the fixed furnished category group instead.
func serviceMatches(o domain.Offer, service string) bool {
	term := normalizeText(service)
	if term == "" {
		return true
	}
	if o.Type == domain.OfferTypeProperty && isFurnishedQuery(term) {
		return isFurnishedCategory(o)
	}

	fields := []string{o.Description, o.DescriptionEn, o.Category, o.CategoryEn}
	if o.Type == domain.OfferTypeVehicle {
		fields = append(fields, o.Brand, o.Model, o.Name, o.NameEn)
	}
	for _, f := range fields {
		if f != "" && strings.Contains(normalizeText(f), term) {
			return true
		}
	}
	return false
}

func isFurnishedQuery(term string) bool {
	for _, kw := range furnishedKeywords {
		if strings.Contains(term, kw) {
			return true
		}
	}
	return false
}

func isFurnishedCategory(o domain.Offer) bool {
	for _, cat := range []string{o.Category, o.CategoryEn} {
		norm := normalizeText(cat)
		for _, f := range furnishedCategories {
			if norm == f {
				return true
			}
		}
		for _, kw := range furnishedKeywords {
			if strings.Contains(norm, kw) {
				return true
			}
		}
	}
	return false
}

// inBudget reports whether price falls inside the tolerance band
// [0.75·budget, 1.25·budget], bounds included.
func inBudget(price, budget float64) bool {
	return price >= (1-budgetTolerance)*budget && price <= (1+budgetTolerance)*budget
}

func excludeIDs(offers []domain.Offer, ids []string) []domain.Offer {
	if len(ids) == 0 {
		return offers
	}
	skip := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		skip[id] = struct{}{}
	}
	out := make([]domain.Offer, 0, len(offers))
	for _, o := range offers {
		if _, ok := skip[o.ID]; !ok {
			out = append(out, o)
		}
	}
	return out
}
