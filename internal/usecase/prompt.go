package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/domain"
)

// slotExtractionSchema constrains the structured slot-extraction call.
// Every property is nullable so the model can say "not mentioned".
var slotExtractionSchema = json.RawMessage(`{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"service":{"type":["string","null"]},
		"town":{"type":["string","null"]},
		"budget":{"type":["number","null"]},
		"type":{"type":["string","null"],"enum":["vehicle","property",null]},
		"language":{"type":["string","null"],"enum":["fr","en",null]}
	},
	"required":["service","town","budget","type","language"]
}`)

// contactExtractionSchema constrains the structured contact-extraction
// call. No phone field: the sender id is authoritative.
var contactExtractionSchema = json.RawMessage(`{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"name":{"type":["string","null"]},
		"surname":{"type":["string","null"]},
		"currentCity":{"type":["string","null"]},
		"email":{"type":["string","null"]},
		"numberOfDays":{"type":["integer","null"]},
		"startDate":{"type":["string","null"]}
	},
	"required":["name","surname","currentCity","email","numberOfDays","startDate"]
}`)

func buildSlotExtractionMessages(s *domain.Session, text string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: strings.Join([]string{
			"Task:",
			"Extract the user's purchase or rental intent from the message.",
			"",
			"Fields:",
			"- service: what the user is looking for (e.g. \"villa\", \"studio meublé\", \"Toyota Corolla\")",
			"- town: the city the user is searching in",
			"- budget: the stated budget as a number, without currency",
			"- type: \"property\" for real estate, \"vehicle\" for cars",
			"- language: \"fr\" or \"en\", the language the user writes in",
			"",
			"Rules:",
			"1) Return null for every field the message does not mention.",
			"2) Never guess; only extract what is explicitly stated or strongly implied.",
			"3) Return JSON only.",
		}, "\n")},
		{Role: "system", Content: knownSlotsContext(s)},
		{Role: "user", Content: text},
	}
}

// knownSlotsContext replays what previous turns already established so
// the model resolves references like "same town but cheaper".
func knownSlotsContext(s *domain.Session) string {
	parts := []string{"Already known from earlier turns (do not re-extract unless the message changes them):"}
	if s.Service != "" {
		parts = append(parts, "service: "+s.Service)
	}
	if s.Town != "" {
		parts = append(parts, "town: "+s.Town)
	}
	if s.Budget > 0 {
		parts = append(parts, fmt.Sprintf("budget: %.0f", s.Budget))
	}
	if s.OfferType != "" {
		parts = append(parts, "type: "+s.OfferType)
	}
	if len(parts) == 1 {
		return "Nothing is known about the user's intent yet."
	}
	return strings.Join(parts, "\n")
}

func buildContactExtractionMessages(s *domain.Session, text string) []domain.ChatMessage {
	rentalNote := "This is a purchase request; email, numberOfDays and startDate are not expected."
	if s.RequestKind == domain.RequestKindRental {
		rentalNote = "This is a rental request; also look for email, numberOfDays and startDate."
	}
	return []domain.ChatMessage{
		{Role: "system", Content: strings.Join([]string{
			"Task:",
			"Extract contact details from the user's message.",
			"",
			"Fields: name, surname, currentCity, email, numberOfDays, startDate.",
			rentalNote,
			"",
			"Rules:",
			"1) Return null for every field the message does not mention.",
			"2) startDate is returned verbatim as the user wrote it.",
			"3) Return JSON only.",
		}, "\n")},
		{Role: "user", Content: text},
	}
}

func buildRefusalMessages(text string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: strings.Join([]string{
			"The user was just shown a batch of offers.",
			"Decide whether this message rejects those offers or asks for alternatives.",
			"Reply with exactly one word: yes or no.",
		}, "\n")},
		{Role: "user", Content: text},
	}
}

func buildInterestMessages(text string, n int) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: strings.Join([]string{
			fmt.Sprintf("The user was shown %d offers, numbered 1 to %d in the order they were sent.", n, n),
			"Decide which offer this message refers to.",
			fmt.Sprintf("Reply with a single number between 1 and %d, or the word none if no specific offer is meant.", n),
		}, "\n")},
		{Role: "user", Content: text},
	}
}

// buildSlotQuestionMessages asks the model to produce the next
// conversational question for a missing slot. This is the one reply
// whose generation failure is fatal to the turn.
func buildSlotQuestionMessages(persona string, s *domain.Session, slot slotField, text string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: strings.TrimSpace(persona)},
		{Role: "system", Content: strings.Join([]string{
			"Write the assistant's next message.",
			"Goal: " + slotQuestionGoal(slot),
			"Language: " + languageName(s.Language) + ".",
			"Acknowledge what the user just said, then ask one short question.",
			"Plain text only, no lists, at most two sentences.",
		}, "\n")},
		{Role: "system", Content: knownSlotsContext(s)},
		{Role: "user", Content: text},
	}
}

func slotQuestionGoal(slot slotField) string {
	switch slot {
	case slotService:
		return "learn what the user is looking for (kind of property or vehicle, e.g. villa, studio, car model)."
	case slotTown:
		return "learn which city the user is searching in."
	case slotBudget:
		return "learn the user's budget as a number."
	default:
		return "learn whether the user wants real estate (property) or a car (vehicle)."
	}
}

func languageName(lang string) string {
	if lang == domain.LangEnglish {
		return "English"
	}
	return "French"
}
