package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/domain"
)

// ---- fakes ----

type llmReply struct {
	text string
	err  error
}

// fakeLLM scripts the NLU: Chat pops queued replies in call order,
// ChatStructured answers by schema name.
type fakeLLM struct {
	chatReplies       []llmReply
	chatCalls         [][]domain.ChatMessage
	structuredReplies map[string]llmReply
	structuredCalls   []string
}

func (f *fakeLLM) Chat(_ context.Context, _ string, messages []domain.ChatMessage) (string, error) {
	f.chatCalls = append(f.chatCalls, messages)
	if len(f.chatReplies) == 0 {
		return "", errors.New("unscripted chat call")
	}
	r := f.chatReplies[0]
	f.chatReplies = f.chatReplies[1:]
	return r.text, r.err
}

func (f *fakeLLM) ChatStructured(_ context.Context, _ string, _ []domain.ChatMessage, schemaName string, _ json.RawMessage) (string, error) {
	f.structuredCalls = append(f.structuredCalls, schemaName)
	r, ok := f.structuredReplies[schemaName]
	if !ok {
		return "", errors.New("unscripted structured call: " + schemaName)
	}
	return r.text, r.err
}

type fakeSessions struct {
	byID    map[string]*domain.Session
	findErr error
	saveErr error
	saves   int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: map[string]*domain.Session{}}
}

func (f *fakeSessions) Find(_ context.Context, senderID string) (*domain.Session, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	s, ok := f.byID[senderID]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (f *fakeSessions) Create(_ context.Context, s *domain.Session) error {
	if _, ok := f.byID[s.SenderID]; ok {
		return errors.New("session already exists")
	}
	c := *s
	f.byID[s.SenderID] = &c
	return nil
}

func (f *fakeSessions) Save(_ context.Context, s *domain.Session) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	c := *s
	f.byID[s.SenderID] = &c
	return nil
}

type fakeInventory struct {
	offers  []domain.Offer
	listErr error
	getErr  error
}

func (f *fakeInventory) ListOffers(_ context.Context, offerType string) ([]domain.Offer, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Offer
	for _, o := range f.offers {
		if o.Type == offerType {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeInventory) GetOffer(_ context.Context, offerType, id string) (*domain.Offer, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, o := range f.offers {
		if o.Type == offerType && o.ID == id {
			c := o
			return &c, nil
		}
	}
	return nil, nil
}

type sentMessage struct {
	recipient string
	text      string
	mediaURL  string
	caption   string
}

type fakeMessenger struct {
	sent     []sentMessage
	textErr  error
	mediaErr error
}

func (f *fakeMessenger) SendText(_ context.Context, recipient, text string) error {
	if f.textErr != nil {
		return f.textErr
	}
	f.sent = append(f.sent, sentMessage{recipient: recipient, text: text})
	return nil
}

func (f *fakeMessenger) SendMedia(_ context.Context, recipient, mediaURL, caption string) error {
	if f.mediaErr != nil {
		return f.mediaErr
	}
	f.sent = append(f.sent, sentMessage{recipient: recipient, mediaURL: mediaURL, caption: caption})
	return nil
}

func (f *fakeMessenger) texts() []string {
	var out []string
	for _, m := range f.sent {
		if m.mediaURL == "" {
			out = append(out, m.text)
		}
	}
	return out
}

type fakeParams struct {
	values   map[string]string
	requests []string
}

func (f *fakeParams) GetParameter(_ context.Context, name string) (string, error) {
	f.requests = append(f.requests, name)
	v, ok := f.values[name]
	if !ok {
		return "", errors.New("parameter not found: " + name)
	}
	return v, nil
}

func newTestParams() *fakeParams {
	return &fakeParams{values: map[string]string{
		"/nimmo/config/openai_model": "gpt-4o-mini",
		"/nimmo/persona_prompt":      "Tu es Nimmo, l'assistant immobilier et automobile.",
	}}
}

func newTestService(t *testing.T, llm *fakeLLM, sessions *fakeSessions, inv *fakeInventory, msgr *fakeMessenger) *ConverseService {
	t.Helper()
	svc, err := NewConverseService(newTestParams(), llm, sessions, inv, msgr, zap.NewNop(), "/nimmo")
	require.NoError(t, err)
	return svc
}

func allNullSlots() llmReply {
	return llmReply{text: `{"service":null,"town":null,"budget":null,"type":null,"language":null}`}
}

// ---- tests ----

func TestHandleMessage_NewSenderGetsGreetingOnly(t *testing.T) {
	llm := &fakeLLM{structuredReplies: map[string]llmReply{
		"intent_slots": {text: `{"service":"villa","town":null,"budget":null,"type":"property","language":"fr"}`},
	}}
	sessions := newFakeSessions()
	msgr := &fakeMessenger{}
	svc := newTestService(t, llm, sessions, &fakeInventory{}, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "237650000001", Text: "Bonjour, je cherche une villa"})

	require.Len(t, msgr.sent, 1)
	require.Equal(t, catalogFR[msgGreeting], msgr.sent[0].text)
	require.Equal(t, "237650000001", msgr.sent[0].recipient)

	stored := sessions.byID["237650000001"]
	require.NotNil(t, stored)
	require.Equal(t, domain.StatusCollecting, stored.Status)
	require.Equal(t, "villa", stored.Service)
	require.Equal(t, domain.OfferTypeProperty, stored.OfferType)
	require.Equal(t, domain.LangFrench, stored.Language)
}

func TestHandleMessage_AsksForMissingSlot(t *testing.T) {
	llm := &fakeLLM{
		structuredReplies: map[string]llmReply{"intent_slots": allNullSlots()},
		chatReplies:       []llmReply{{text: "Très bien ! Dans quelle ville cherchez-vous ?"}},
	}
	sessions := newFakeSessions()
	sessions.byID["u1"] = &domain.Session{
		SenderID: "u1", Service: "villa", OfferType: domain.OfferTypeProperty,
		Language: domain.LangFrench, Status: domain.StatusCollecting,
	}
	msgr := &fakeMessenger{}
	svc := newTestService(t, llm, sessions, &fakeInventory{}, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "une grande villa"})

	require.Len(t, msgr.sent, 1)
	require.Equal(t, "Très bien ! Dans quelle ville cherchez-vous ?", msgr.sent[0].text)
	// One Chat call only: the generated slot question.
	require.Len(t, llm.chatCalls, 1)
}

func TestHandleMessage_ProposesOffersWithinBudgetBand(t *testing.T) {
	llm := &fakeLLM{structuredReplies: map[string]llmReply{
		"intent_slots": {text: `{"service":null,"town":null,"budget":50000,"type":null,"language":null}`},
	}}
	sessions := newFakeSessions()
	sessions.byID["u1"] = &domain.Session{
		SenderID: "u1", Service: "villa", Town: "Douala", OfferType: domain.OfferTypeProperty,
		Language: domain.LangFrench, Status: domain.StatusCollecting,
	}
	inv := &fakeInventory{offers: []domain.Offer{
		{ID: "1", Type: domain.OfferTypeProperty, Name: "Villa Bonapriso", Description: "Belle villa avec jardin", Town: "Douala", Price: 40000},
		{ID: "2", Type: domain.OfferTypeProperty, Name: "Villa Bonamoussadi", Description: "Villa moderne", Town: "Douala", Price: 62500},
		{ID: "3", Type: domain.OfferTypeProperty, Name: "Villa Akwa", Description: "Grande villa", Town: "Douala", Price: 70000},
		{ID: "4", Type: domain.OfferTypeProperty, Name: "Villa Deido", Description: "Petite villa", Town: "Douala", Price: 37499},
		{ID: "5", Type: domain.OfferTypeProperty, Name: "Villa Bastos", Description: "Villa de standing", Town: "Yaoundé", Price: 50000},
	}}
	msgr := &fakeMessenger{}
	svc := newTestService(t, llm, sessions, inv, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "mon budget est de 50000"})

	// Intro, two offers inside [37500, 62500], closing prompt.
	texts := msgr.texts()
	require.Len(t, texts, 4)
	require.Equal(t, catalogFR[msgProposalIntro], texts[0])
	require.Contains(t, texts[1], "Villa Bonapriso")
	require.Contains(t, texts[2], "Villa Bonamoussadi")
	require.Equal(t, catalogFR[msgProposalClosing], texts[3])

	stored := sessions.byID["u1"]
	require.Equal(t, []string{"1", "2"}, stored.LastProposedOfferIDs)
	require.Equal(t, 50000.0, stored.Budget)
}

func TestHandleMessage_InterestFallbackSelectsLastProposed(t *testing.T) {
	llm := &fakeLLM{
		structuredReplies: map[string]llmReply{"intent_slots": allNullSlots()},
		chatReplies: []llmReply{
			{text: "no"},         // refusal classification
			{text: "certainly!"}, // unparsable selection, falls back to last index
		},
	}
	sessions := newFakeSessions()
	sessions.byID["u1"] = &domain.Session{
		SenderID: "u1", Service: "studio meublé", Town: "Douala", Budget: 50000,
		OfferType: domain.OfferTypeProperty, Language: domain.LangFrench,
		Status: domain.StatusCollecting, LastProposedOfferIDs: []string{"101", "102", "103"},
	}
	inv := &fakeInventory{offers: []domain.Offer{
		{ID: "103", Type: domain.OfferTypeProperty, Name: "Studio Makepe", Category: "Studio meublé en location", Town: "Douala", Price: 45000},
	}}
	msgr := &fakeMessenger{}
	svc := newTestService(t, llm, sessions, inv, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "oui je suis intéressé"})

	stored := sessions.byID["u1"]
	require.Equal(t, "103", stored.SelectedOfferID)
	require.NotNil(t, stored.SelectedOffer)
	require.Equal(t, "Studio Makepe", stored.SelectedOffer.Name)
	require.Equal(t, domain.StatusCollectingContact, stored.Status)
	require.Equal(t, domain.RequestKindRental, stored.RequestKind)
	require.Equal(t, "u1", stored.Contact.Phone)
	require.Empty(t, stored.LastProposedOfferIDs)

	require.Len(t, msgr.sent, 2)
	require.Contains(t, msgr.sent[0].text, catalogFR[msgSelectionConfirmed])
	require.Contains(t, msgr.sent[0].text, "Studio Makepe")
	require.Equal(t, contactQuestionsFR[fieldNameSurname], msgr.sent[1].text)
}

func TestHandleMessage_SingleProposalAssentSkipsSelectionCall(t *testing.T) {
	llm := &fakeLLM{
		structuredReplies: map[string]llmReply{"intent_slots": allNullSlots()},
		chatReplies:       []llmReply{{text: "no"}}, // refusal only
	}
	sessions := newFakeSessions()
	sessions.byID["u1"] = &domain.Session{
		SenderID: "u1", Service: "villa", Town: "Douala", Budget: 50000,
		OfferType: domain.OfferTypeProperty, Language: domain.LangFrench,
		Status: domain.StatusCollecting, LastProposedOfferIDs: []string{"7"},
	}
	inv := &fakeInventory{offers: []domain.Offer{
		{ID: "7", Type: domain.OfferTypeProperty, Name: "Villa Logpom", Category: "Vente de villa", Town: "Douala", Price: 48000},
	}}
	msgr := &fakeMessenger{}
	svc := newTestService(t, llm, sessions, inv, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "ok"})

	require.Len(t, llm.chatCalls, 1)
	stored := sessions.byID["u1"]
	require.Equal(t, "7", stored.SelectedOfferID)
	require.Equal(t, domain.RequestKindPurchase, stored.RequestKind)
}

func TestHandleMessage_RefusalExcludesLastProposed(t *testing.T) {
	llm := &fakeLLM{
		structuredReplies: map[string]llmReply{"intent_slots": allNullSlots()},
		chatReplies:       []llmReply{{text: "yes"}}, // refusal classification
	}
	sessions := newFakeSessions()
	sessions.byID["u1"] = &domain.Session{
		SenderID: "u1", Service: "villa", Town: "Douala", Budget: 50000,
		OfferType: domain.OfferTypeProperty, Language: domain.LangFrench,
		Status: domain.StatusCollecting, LastProposedOfferIDs: []string{"101", "102"},
	}
	inv := &fakeInventory{offers: []domain.Offer{
		{ID: "101", Type: domain.OfferTypeProperty, Name: "Villa A", Description: "villa", Town: "Douala", Price: 48000},
		{ID: "102", Type: domain.OfferTypeProperty, Name: "Villa B", Description: "villa", Town: "Douala", Price: 52000},
		{ID: "201", Type: domain.OfferTypeProperty, Name: "Villa C", Description: "villa", Town: "Douala", Price: 55000},
	}}
	msgr := &fakeMessenger{}
	svc := newTestService(t, llm, sessions, inv, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "non, montrez-moi autre chose"})

	stored := sessions.byID["u1"]
	require.Equal(t, []string{"201"}, stored.LastProposedOfferIDs)

	texts := msgr.texts()
	require.Len(t, texts, 3)
	require.Contains(t, texts[1], "Villa C")
	require.NotContains(t, texts[1], "Villa A")
}

func TestHandleMessage_ContactAnswersStoredButOrderFixed(t *testing.T) {
	llm := &fakeLLM{structuredReplies: map[string]llmReply{
		"intent_slots": allNullSlots(),
		"contact_info": {text: `{"name":null,"surname":null,"currentCity":null,"email":"paul@exemple.cm","numberOfDays":10,"startDate":null}`},
	}}
	sessions := newFakeSessions()
	sessions.byID["u1"] = &domain.Session{
		SenderID: "u1", Service: "studio meublé", Town: "Douala", Budget: 50000,
		OfferType: domain.OfferTypeProperty, Language: domain.LangFrench,
		Status: domain.StatusCollectingContact, RequestKind: domain.RequestKindRental,
		SelectedOfferID: "103",
		SelectedOffer:   &domain.Offer{ID: "103", Type: domain.OfferTypeProperty, Name: "Studio Makepe", Price: 45000},
	}
	msgr := &fakeMessenger{}
	svc := newTestService(t, llm, sessions, &fakeInventory{}, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "mon email est paul@exemple.cm, pour 10 jours"})

	stored := sessions.byID["u1"]
	// Out-of-order answers are kept, yet the next question follows the
	// fixed order: name and surname first.
	require.Equal(t, "paul@exemple.cm", stored.Contact.Email)
	require.Equal(t, 10, stored.Contact.NumberOfDays)
	require.Equal(t, domain.StatusCollectingContact, stored.Status)
	require.Len(t, msgr.sent, 1)
	require.Equal(t, contactQuestionsFR[fieldNameSurname], msgr.sent[0].text)
}

func TestHandleMessage_ContactCompletionSendsSummary(t *testing.T) {
	llm := &fakeLLM{structuredReplies: map[string]llmReply{
		"intent_slots": allNullSlots(),
		"contact_info": {text: `{"name":null,"surname":null,"currentCity":null,"email":null,"numberOfDays":null,"startDate":"1er septembre"}`},
	}}
	sessions := newFakeSessions()
	sessions.byID["u1"] = &domain.Session{
		SenderID: "u1", Service: "studio meublé", Town: "Douala", Budget: 50000,
		OfferType: domain.OfferTypeProperty, Language: domain.LangFrench,
		Status: domain.StatusCollectingContact, RequestKind: domain.RequestKindRental,
		SelectedOfferID: "103",
		SelectedOffer:   &domain.Offer{ID: "103", Type: domain.OfferTypeProperty, Name: "Studio Makepe", Price: 45000},
		Contact: domain.ContactInfo{
			Name: "Paul", Surname: "Biyick", Phone: "u1",
			CurrentCity: "Douala", Email: "paul@exemple.cm", NumberOfDays: 10,
		},
	}
	msgr := &fakeMessenger{}
	svc := newTestService(t, llm, sessions, &fakeInventory{}, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "à partir du 1er septembre"})

	stored := sessions.byID["u1"]
	require.Equal(t, domain.StatusReady, stored.Status)
	require.Equal(t, "1er septembre", stored.Contact.StartDate)

	require.Len(t, msgr.sent, 1)
	summary := msgr.sent[0].text
	require.Contains(t, summary, "Paul Biyick")
	require.Contains(t, summary, "Studio Makepe")
	require.Contains(t, summary, "10 jour(s)")
	require.Contains(t, summary, "1er septembre")
	require.Contains(t, summary, "u1")
}

func TestHandleMessage_ApologyWhenSessionLoadFails(t *testing.T) {
	llm := &fakeLLM{}
	sessions := newFakeSessions()
	sessions.findErr = errors.New("dynamo unavailable")
	msgr := &fakeMessenger{}
	svc := newTestService(t, llm, sessions, &fakeInventory{}, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "bonjour"})

	require.Len(t, msgr.sent, 1)
	require.Equal(t, catalogFR[msgApology], msgr.sent[0].text)
}

func TestHandleMessage_ApologyWhenSlotQuestionFails(t *testing.T) {
	llm := &fakeLLM{structuredReplies: map[string]llmReply{"intent_slots": allNullSlots()}}
	// No scripted chat replies: the slot-question generation fails.
	sessions := newFakeSessions()
	sessions.byID["u1"] = &domain.Session{
		SenderID: "u1", Language: domain.LangEnglish, Status: domain.StatusCollecting,
	}
	msgr := &fakeMessenger{}
	svc := newTestService(t, llm, sessions, &fakeInventory{}, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "hi"})

	require.Len(t, msgr.sent, 1)
	require.Equal(t, catalogEN[msgApology], msgr.sent[0].text)
}

func TestHandleMessage_ExtractionFailureDoesNotFailTurn(t *testing.T) {
	llm := &fakeLLM{
		structuredReplies: map[string]llmReply{"intent_slots": {err: errors.New("upstream 500")}},
		chatReplies:       []llmReply{{text: "Quel est votre budget ?"}},
	}
	sessions := newFakeSessions()
	sessions.byID["u1"] = &domain.Session{
		SenderID: "u1", Service: "villa", Town: "Douala",
		Language: domain.LangFrench, Status: domain.StatusCollecting,
	}
	msgr := &fakeMessenger{}
	svc := newTestService(t, llm, sessions, &fakeInventory{}, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "environ cinquante mille"})

	require.Len(t, msgr.sent, 1)
	require.Equal(t, "Quel est votre budget ?", msgr.sent[0].text)
	// Known slots are retained untouched.
	require.Equal(t, "villa", sessions.byID["u1"].Service)
}

func TestHandleMessage_MediaSendFallsBackToText(t *testing.T) {
	llm := &fakeLLM{structuredReplies: map[string]llmReply{"intent_slots": allNullSlots()}}
	sessions := newFakeSessions()
	sessions.byID["u1"] = &domain.Session{
		SenderID: "u1", Service: "villa", Town: "Douala", Budget: 50000,
		OfferType: domain.OfferTypeProperty, Language: domain.LangFrench,
		Status: domain.StatusCollecting,
	}
	inv := &fakeInventory{offers: []domain.Offer{
		{ID: "1", Type: domain.OfferTypeProperty, Name: "Villa Bonapriso", Description: "villa", Town: "Douala", Price: 50000,
			Images: []string{"https://cdn.example/1.jpg"}},
	}}
	msgr := &fakeMessenger{mediaErr: errors.New("media rejected")}
	svc := newTestService(t, llm, sessions, inv, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "c'est bon"})

	texts := msgr.texts()
	require.Len(t, texts, 3)
	require.Contains(t, texts[1], "Villa Bonapriso")
}

func TestHandleMessage_NoResultsMessage(t *testing.T) {
	llm := &fakeLLM{structuredReplies: map[string]llmReply{"intent_slots": allNullSlots()}}
	sessions := newFakeSessions()
	sessions.byID["u1"] = &domain.Session{
		SenderID: "u1", Service: "villa", Town: "Garoua", Budget: 50000,
		OfferType: domain.OfferTypeProperty, Language: domain.LangFrench,
		Status: domain.StatusCollecting,
	}
	msgr := &fakeMessenger{}
	svc := newTestService(t, llm, sessions, &fakeInventory{}, msgr)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "d'autres options ?"})

	require.Len(t, msgr.sent, 1)
	require.Equal(t, catalogFR[msgNoResults], msgr.sent[0].text)
	require.Empty(t, sessions.byID["u1"].LastProposedOfferIDs)
}

func TestHandleMessage_LoadsRuntimeConfigOnce(t *testing.T) {
	llm := &fakeLLM{
		structuredReplies: map[string]llmReply{"intent_slots": allNullSlots()},
		chatReplies:       []llmReply{{text: "Quelle ville ?"}, {text: "Quel budget ?"}},
	}
	sessions := newFakeSessions()
	sessions.byID["u1"] = &domain.Session{
		SenderID: "u1", Service: "villa", Language: domain.LangFrench, Status: domain.StatusCollecting,
	}
	msgr := &fakeMessenger{}
	params := newTestParams()
	svc, err := NewConverseService(params, llm, sessions, &fakeInventory{}, msgr, zap.NewNop(), "/nimmo/")
	require.NoError(t, err)

	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "une villa"})
	svc.HandleMessage(context.Background(), domain.InboundMessage{SenderID: "u1", Text: "à Douala"})

	require.Equal(t, []string{"/nimmo/config/openai_model", "/nimmo/persona_prompt"}, params.requests)
}

func TestNewConverseService_Validation(t *testing.T) {
	llm := &fakeLLM{}
	sessions := newFakeSessions()
	inv := &fakeInventory{}
	msgr := &fakeMessenger{}
	log := zap.NewNop()

	_, err := NewConverseService(nil, llm, sessions, inv, msgr, log, "/nimmo")
	require.Error(t, err)
	_, err = NewConverseService(newTestParams(), nil, sessions, inv, msgr, log, "/nimmo")
	require.Error(t, err)
	_, err = NewConverseService(newTestParams(), llm, sessions, inv, msgr, log, "  ")
	require.Error(t, err)
	_, err = NewConverseService(newTestParams(), llm, sessions, inv, msgr, nil, "/nimmo")
	require.Error(t, err)
}
