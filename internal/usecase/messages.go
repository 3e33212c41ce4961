package usecase

import (
	"fmt"
	"strings"

	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/domain"
)

// Fixed conversational strings. The NLU generates only the open-ended
// slot questions; everything else stays fixed so the tone is stable
// across turns and an NLU outage cannot corrupt the protocol messages.
const (
	msgGreeting           = "greeting"
	msgProposalIntro      = "proposal_intro"
	msgSuggestionIntro    = "suggestion_intro"
	msgProposalClosing    = "proposal_closing"
	msgNoResults          = "no_results"
	msgApology            = "apology"
	msgSelectionConfirmed = "selection_confirmed"
)

var catalogFR = map[string]string{
	msgGreeting:           "Bonjour ! Je suis l'assistant Nimmo. Dites-moi ce que vous cherchez (par exemple « villa à louer à Douala, budget 150000 ») et je vous proposerai nos meilleures offres.",
	msgProposalIntro:      "Voici ce que j'ai trouvé pour vous :",
	msgSuggestionIntro:    "Je n'ai rien trouvé qui corresponde exactement, mais voici des offres proches de votre recherche :",
	msgProposalClosing:    "Laquelle de ces offres vous intéresse ?",
	msgNoResults:          "Désolé, je n'ai trouvé aucune offre correspondant à votre recherche pour le moment. Vous pouvez essayer une autre ville ou un autre budget.",
	msgApology:            "Désolé, une erreur s'est produite de notre côté. Pouvez-vous réessayer dans un instant ?",
	msgSelectionConfirmed: "Excellent choix ! Pour finaliser votre demande, j'ai besoin de quelques informations.",
}

var catalogEN = map[string]string{
	msgGreeting:           "Hello! I'm the Nimmo assistant. Tell me what you're looking for (for example \"furnished studio in Douala, budget 150000\") and I'll send you our best offers.",
	msgProposalIntro:      "Here is what I found for you:",
	msgSuggestionIntro:    "I couldn't find an exact match, but here are some offers close to your search:",
	msgProposalClosing:    "Which of these offers are you interested in?",
	msgNoResults:          "Sorry, I couldn't find any offer matching your search right now. You could try another city or budget.",
	msgApology:            "Sorry, something went wrong on our side. Could you try again in a moment?",
	msgSelectionConfirmed: "Excellent choice! To finalize your request I need a few details.",
}

var contactQuestionsFR = map[contactField]string{
	fieldNameSurname:  "Quel est votre nom et votre prénom ?",
	fieldCurrentCity:  "Dans quelle ville habitez-vous actuellement ?",
	fieldEmail:        "Quelle est votre adresse e-mail ?",
	fieldNumberOfDays: "Pour combien de jours souhaitez-vous la location ?",
	fieldStartDate:    "À quelle date souhaitez-vous commencer la location ?",
}

var contactQuestionsEN = map[contactField]string{
	fieldNameSurname:  "What is your first and last name?",
	fieldCurrentCity:  "Which city do you currently live in?",
	fieldEmail:        "What is your email address?",
	fieldNumberOfDays: "For how many days would you like to rent?",
	fieldStartDate:    "On what date would you like the rental to start?",
}

func text(lang, key string) string {
	if lang == domain.LangEnglish {
		if v, ok := catalogEN[key]; ok {
			return v
		}
	}
	return catalogFR[key]
}

func contactQuestion(lang string, field contactField) string {
	if lang == domain.LangEnglish {
		if v, ok := contactQuestionsEN[field]; ok {
			return v
		}
	}
	return contactQuestionsFR[field]
}

// formatOfferCaption renders one proposed offer as a short caption:
// name, location, price, then the type-specific attributes.
func formatOfferCaption(o domain.Offer, lang string) string {
	var sb strings.Builder
	sb.WriteString(o.DisplayName(lang))
	sb.WriteString("\n")
	if o.Town != "" {
		sb.WriteString("📍 " + o.Town + "\n")
	}
	sb.WriteString("💰 " + formatPrice(o.Price) + "\n")

	switch o.Type {
	case domain.OfferTypeProperty:
		if o.Bedrooms > 0 {
			fmt.Fprintf(&sb, "🛏 %d", o.Bedrooms)
			if o.Bathrooms > 0 {
				fmt.Fprintf(&sb, " · 🛁 %d", o.Bathrooms)
			}
			sb.WriteString("\n")
		}
		if o.AreaSqm > 0 {
			fmt.Fprintf(&sb, "📐 %.0f m²\n", o.AreaSqm)
		}
	case domain.OfferTypeVehicle:
		if o.Brand != "" || o.Model != "" {
			sb.WriteString("🚗 " + strings.TrimSpace(o.Brand+" "+o.Model))
			if o.Year > 0 {
				fmt.Fprintf(&sb, " (%d)", o.Year)
			}
			sb.WriteString("\n")
		}
		if o.Mileage > 0 {
			fmt.Fprintf(&sb, "🧭 %d km\n", o.Mileage)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// buildSummary renders the fulfilment recap sent when the session
// reaches ready.
func buildSummary(s *domain.Session) string {
	var sb strings.Builder
	c := s.Contact
	if s.Language == domain.LangEnglish {
		fmt.Fprintf(&sb, "All set, %s %s! Here is a summary of your request:\n", c.Name, c.Surname)
	} else {
		fmt.Fprintf(&sb, "C'est noté, %s %s ! Voici le récapitulatif de votre demande :\n", c.Name, c.Surname)
	}
	if s.SelectedOffer != nil {
		fmt.Fprintf(&sb, "• %s — %s\n", s.SelectedOffer.DisplayName(s.Language), formatPrice(s.SelectedOffer.Price))
	}
	fmt.Fprintf(&sb, "• %s\n", c.CurrentCity)
	if s.RequestKind == domain.RequestKindRental {
		fmt.Fprintf(&sb, "• %s\n", c.Email)
		if s.Language == domain.LangEnglish {
			fmt.Fprintf(&sb, "• %d day(s) from %s\n", c.NumberOfDays, c.StartDate)
		} else {
			fmt.Fprintf(&sb, "• %d jour(s) à partir du %s\n", c.NumberOfDays, c.StartDate)
		}
	}
	if s.Language == domain.LangEnglish {
		fmt.Fprintf(&sb, "An agent will contact you shortly at %s.", c.Phone)
	} else {
		fmt.Fprintf(&sb, "Un agent vous contactera très rapidement au %s.", c.Phone)
	}
	return sb.String()
}

func formatPrice(p float64) string {
	return fmt.Sprintf("%.0f FCFA", p)
}
