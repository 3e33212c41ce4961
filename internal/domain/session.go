package domain

import "time"

// Offer types carried by the catalog.
const (
	OfferTypeVehicle  = "vehicle"
	OfferTypeProperty = "property"
)

// Dialogue states. A session starts collecting intent slots, moves to
// contact collection once an offer is selected, and ends ready. Ready is
// terminal for the current request; the session may be reused for a new
// request cycle afterwards.
const (
	StatusCollecting        = "collecting"
	StatusCollectingContact = "collecting_info"
	StatusReady             = "ready"
)

// Request kinds derived from the selected offer's category/description.
const (
	RequestKindPurchase = "purchase"
	RequestKindRental   = "rental"
)

// Supported conversation languages.
const (
	LangFrench  = "fr"
	LangEnglish = "en"
)

// ContactInfo is filled in incrementally during contact collection.
// Email, NumberOfDays and StartDate are required only for rental
// requests. Phone is always derived from the channel sender id.
type ContactInfo struct {
	Name         string
	Surname      string
	Phone        string
	CurrentCity  string
	Email        string
	NumberOfDays int
	StartDate    string
}

// Session is the per-user dialogue state, keyed by the opaque sender id
// assigned by the messaging channel.
type Session struct {
	SenderID  string
	Service   string
	Town      string
	Budget    float64
	OfferType string
	Language  string
	Status    string

	// LastProposedOfferIDs is replaced with each proposal batch and is
	// the sole addressing scheme for "which offer did the user mean".
	LastProposedOfferIDs []string

	SelectedOfferID string
	// SelectedOffer is a snapshot of the matched offer at selection
	// time, kept even if the catalog entry changes afterwards.
	SelectedOffer *Offer

	Contact     ContactInfo
	RequestKind string
	LastUpdated time.Time
}

// NewSession returns a fresh collecting-state session for a sender.
// French is the default language until extraction learns otherwise.
func NewSession(senderID string) *Session {
	return &Session{
		SenderID:    senderID,
		Language:    LangFrench,
		Status:      StatusCollecting,
		LastUpdated: time.Now().UTC(),
	}
}

// HasAllSlots reports whether every intent slot needed for matching is
// known.
func (s *Session) HasAllSlots() bool {
	return s.Service != "" && s.Town != "" && s.Budget > 0 && s.OfferType != ""
}
