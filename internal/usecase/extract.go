package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/domain"
)

// slotExtraction is the structured NLU output for intent slots. Pointer
// fields are explicit null sentinels: nil means "the message said
// nothing about this slot".
type slotExtraction struct {
	Service   *string  `json:"service"`
	Town      *string  `json:"town"`
	Budget    *float64 `json:"budget"`
	OfferType *string  `json:"type"`
	Language  *string  `json:"language"`
}

// contactExtraction is the structured NLU output for contact fields.
// The phone number is deliberately absent: it is always re-derived from
// the channel sender id, never extracted.
type contactExtraction struct {
	Name         *string `json:"name"`
	Surname      *string `json:"surname"`
	CurrentCity  *string `json:"currentCity"`
	Email        *string `json:"email"`
	NumberOfDays *int    `json:"numberOfDays"`
	StartDate    *string `json:"startDate"`
}

// parseSlotExtraction decodes the NLU slot payload. A malformed
// response degrades to an empty extraction: "no new information",
// never a failed turn.
func parseSlotExtraction(raw string) slotExtraction {
	var out slotExtraction
	if err := decodeStrict(raw, &out); err != nil {
		return slotExtraction{}
	}
	return out
}

// parseContactExtraction decodes the NLU contact payload with the same
// degrade-to-empty policy as parseSlotExtraction.
func parseContactExtraction(raw string) contactExtraction {
	var out contactExtraction
	if err := decodeStrict(raw, &out); err != nil {
		return contactExtraction{}
	}
	return out
}

// decodeStrict rejects unknown fields and trailing data so a
// half-structured NLU response cannot smuggle partial values in.
func decodeStrict(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("usecase: decode extraction: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("usecase: decode extraction: multiple JSON values")
		}
		return fmt.Errorf("usecase: decode extraction trailing data: %w", err)
	}
	return nil
}

// mergeSlots applies an extraction to the session additively: a field
// is overwritten only by a non-null, non-empty new value and is never
// cleared. Applying an all-null extraction is a no-op.
func mergeSlots(s *domain.Session, ex slotExtraction) {
	if v := strValue(ex.Service); v != "" {
		s.Service = v
	}
	if v := strValue(ex.Town); v != "" {
		s.Town = v
	}
	if ex.Budget != nil && *ex.Budget > 0 {
		s.Budget = *ex.Budget
	}
	if v := normalizeText(strValue(ex.OfferType)); v == domain.OfferTypeVehicle || v == domain.OfferTypeProperty {
		s.OfferType = v
	}
	if v := normalizeText(strValue(ex.Language)); v == domain.LangFrench || v == domain.LangEnglish {
		s.Language = v
	}
}

// mergeContact applies a contact extraction with the same additive,
// non-destructive semantics. Phone is handled by the caller.
func mergeContact(s *domain.Session, ex contactExtraction) {
	if v := strValue(ex.Name); v != "" {
		s.Contact.Name = v
	}
	if v := strValue(ex.Surname); v != "" {
		s.Contact.Surname = v
	}
	if v := strValue(ex.CurrentCity); v != "" {
		s.Contact.CurrentCity = v
	}
	if v := strValue(ex.Email); v != "" {
		s.Contact.Email = v
	}
	if ex.NumberOfDays != nil && *ex.NumberOfDays > 0 {
		s.Contact.NumberOfDays = *ex.NumberOfDays
	}
	if v := strValue(ex.StartDate); v != "" {
		s.Contact.StartDate = v
	}
}

func strValue(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// contactField identifies the next contact question to ask. The order
// is fixed: name&surname, current city, then for rentals only email,
// number of days and start date.
type contactField int

const (
	fieldNone contactField = iota
	fieldNameSurname
	fieldCurrentCity
	fieldEmail
	fieldNumberOfDays
	fieldStartDate
)

func nextMissingContactField(s *domain.Session) contactField {
	c := s.Contact
	if c.Name == "" || c.Surname == "" {
		return fieldNameSurname
	}
	if c.CurrentCity == "" {
		return fieldCurrentCity
	}
	if s.RequestKind == domain.RequestKindRental {
		if c.Email == "" {
			return fieldEmail
		}
		if c.NumberOfDays <= 0 {
			return fieldNumberOfDays
		}
		if c.StartDate == "" {
			return fieldStartDate
		}
	}
	return fieldNone
}

// slotField identifies the next intent slot to prompt for.
type slotField int

const (
	slotService slotField = iota
	slotTown
	slotBudget
	slotOfferType
)

func firstMissingSlot(s *domain.Session) slotField {
	switch {
	case s.Service == "":
		return slotService
	case s.Town == "":
		return slotTown
	case s.Budget <= 0:
		return slotBudget
	default:
		return slotOfferType
	}
}

// rentalIndicators mark an offer as a rental when found in its category
// or description, in either language.
var rentalIndicators = []string{"location", "louer", "a louer", "à louer", "rent", "rental", "lease"}

func deriveRequestKind(o *domain.Offer) string {
	for _, f := range []string{o.Category, o.CategoryEn, o.Description, o.DescriptionEn} {
		norm := normalizeText(f)
		for _, ind := range rentalIndicators {
			if strings.Contains(norm, ind) {
				return domain.RequestKindRental
			}
		}
	}
	return domain.RequestKindPurchase
}
