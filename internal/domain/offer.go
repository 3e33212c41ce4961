package domain

import "time"

// Offer is an immutable catalog entry, vehicle or property. Offers are
// created and updated only by the external ingestion job; this engine
// reads them and never writes.
type Offer struct {
	ID   string
	Type string

	Name          string
	NameEn        string
	Description   string
	DescriptionEn string
	Category      string
	CategoryEn    string
	Town          string
	Price         float64

	// Property attributes.
	Bedrooms  int
	Bathrooms int
	AreaSqm   float64

	// Vehicle attributes.
	Brand   string
	Model   string
	Year    int
	Mileage int

	Images     []string
	IngestedAt time.Time
}

// DisplayName returns the offer name in the requested language, falling
// back to the French name when no translation exists.
func (o Offer) DisplayName(lang string) string {
	if lang == LangEnglish && o.NameEn != "" {
		return o.NameEn
	}
	return o.Name
}
