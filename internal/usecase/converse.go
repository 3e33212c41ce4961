package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/domain"
)

// LLMClient is the narrow NLU contract: free-form completion for
// classification and reply generation, schema-constrained completion
// for extraction.
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
	ChatStructured(ctx context.Context, model string, messages []domain.ChatMessage, schemaName string, schema json.RawMessage) (string, error)
}

// SessionStore is keyed persistence for per-user dialogue state. Find
// returns (nil, nil) for an unseen sender.
type SessionStore interface {
	Find(ctx context.Context, senderID string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Save(ctx context.Context, s *domain.Session) error
}

// Inventory is the read-only offer catalog, partitioned by offer type.
type Inventory interface {
	ListOffers(ctx context.Context, offerType string) ([]domain.Offer, error)
	GetOffer(ctx context.Context, offerType, id string) (*domain.Offer, error)
}

// Messenger delivers outbound sends on the messaging channel.
type Messenger interface {
	SendText(ctx context.Context, recipient, text string) error
	SendMedia(ctx context.Context, recipient, mediaURL, caption string) error
}

// ParamGetter resolves runtime configuration from the parameter store.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ConverseService is the dialogue controller: it consumes inbound
// events, runs the per-turn state machine and drives the NLU, matching,
// session and messaging collaborators.
type ConverseService struct {
	params      ParamGetter
	llm         LLMClient
	sessions    SessionStore
	inventory   Inventory
	matcher     *Matcher
	messenger   Messenger
	log         *zap.Logger
	paramPrefix string
	assent      *keywordClassifier

	cacheMu     sync.RWMutex
	cacheLoaded bool
	model       string
	persona     string
}

func NewConverseService(p ParamGetter, llm LLMClient, sessions SessionStore, inv Inventory, messenger Messenger, log *zap.Logger, paramPrefix string) (*ConverseService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if inv == nil {
		return nil, errors.New("usecase: inventory must not be nil")
	}
	if messenger == nil {
		return nil, errors.New("usecase: messenger must not be nil")
	}
	if log == nil {
		return nil, errors.New("usecase: logger must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	matcher, err := NewMatcher(inv)
	if err != nil {
		return nil, err
	}
	return &ConverseService{
		params:      p,
		llm:         llm,
		sessions:    sessions,
		inventory:   inv,
		matcher:     matcher,
		messenger:   messenger,
		log:         log,
		paramPrefix: paramPrefix,
		assent:      newAssentClassifier(),
	}, nil
}

// HandleMessage processes one inbound event end to end. Any failure
// inside the turn is caught here and replaced with the fixed apology;
// session mutations persisted before the failure point stand, since
// every merge is additive.
func (s *ConverseService) HandleMessage(ctx context.Context, in domain.InboundMessage) {
	lang, err := s.turn(ctx, in)
	if err == nil {
		return
	}
	s.log.Error("turn failed",
		zap.String("sender", in.SenderID),
		zap.Error(err))
	if sendErr := s.messenger.SendText(ctx, in.SenderID, text(lang, msgApology)); sendErr != nil {
		s.log.Error("apology send failed",
			zap.String("sender", in.SenderID),
			zap.Error(sendErr))
	}
}

func (s *ConverseService) turn(ctx context.Context, in domain.InboundMessage) (string, error) {
	sess, err := s.sessions.Find(ctx, in.SenderID)
	if err != nil {
		return domain.LangFrench, newError(ErrorInternal, "session_load_error", err)
	}
	isNew := sess == nil
	if isNew {
		sess = domain.NewSession(in.SenderID)
	}

	if err := s.ensureConfig(ctx); err != nil {
		return sess.Language, newError(ErrorInternal, "ssm_load_error", err)
	}

	// Slot extraction runs on every turn, including the first. The
	// merge is additive, so a degraded (empty) extraction changes
	// nothing.
	mergeSlots(sess, s.extractSlots(ctx, sess, in.Text))
	sess.LastUpdated = time.Now().UTC()

	if isNew {
		if err := s.sessions.Create(ctx, sess); err != nil {
			return sess.Language, newError(ErrorInternal, "session_create_error", err)
		}
		if err := s.messenger.SendText(ctx, in.SenderID, text(sess.Language, msgGreeting)); err != nil {
			return sess.Language, newError(ErrorInternal, "send_error", err)
		}
		// No slot question on the greeting turn.
		return sess.Language, nil
	}

	if err := s.sessions.Save(ctx, sess); err != nil {
		return sess.Language, newError(ErrorInternal, "session_save_error", err)
	}

	refused := false
	if n := len(sess.LastProposedOfferIDs); n > 0 {
		refused = s.classifyRefusal(ctx, in.Text)
		if idx := s.classifyInterest(ctx, in.Text, n); idx != interestNone {
			return sess.Language, s.confirmSelection(ctx, sess, idx)
		}
	}

	if sess.Status == domain.StatusCollectingContact {
		return sess.Language, s.collectContact(ctx, sess, in.Text)
	}

	if sess.HasAllSlots() {
		return sess.Language, s.proposeOffers(ctx, sess, refused)
	}

	return sess.Language, s.askMissingSlot(ctx, sess, in.Text)
}

// extractSlots runs the structured slot-extraction call. Failures
// degrade to an empty extraction instead of failing the turn.
func (s *ConverseService) extractSlots(ctx context.Context, sess *domain.Session, message string) slotExtraction {
	raw, err := s.llm.ChatStructured(ctx, s.config().model, buildSlotExtractionMessages(sess, message), "intent_slots", slotExtractionSchema)
	if err != nil {
		s.log.Warn("slot extraction failed, degrading to empty",
			zap.String("sender", sess.SenderID),
			zap.Error(err))
		return slotExtraction{}
	}
	return parseSlotExtraction(raw)
}

// classifyRefusal asks the NLU whether the message rejects the last
// proposal batch. A failed or garbled classification reads as "no".
func (s *ConverseService) classifyRefusal(ctx context.Context, message string) bool {
	raw, err := s.llm.Chat(ctx, s.config().model, buildRefusalMessages(message))
	if err != nil {
		s.log.Warn("refusal classification failed, assuming no refusal", zap.Error(err))
		return false
	}
	return parseRefusal(raw)
}

// classifyInterest resolves which proposed offer, if any, the message
// selects. The keyword tier gates the NLU call; with a single proposed
// offer a keyword hit selects it without any network call. A failed
// call with multiple proposals falls back to the last proposed index.
func (s *ConverseService) classifyInterest(ctx context.Context, message string, n int) int {
	if !s.assent.Match(message) {
		return interestNone
	}
	if n == 1 {
		return 1
	}
	raw, err := s.llm.Chat(ctx, s.config().model, buildInterestMessages(message, n))
	if err != nil {
		s.log.Warn("interest classification failed, defaulting to last proposed", zap.Error(err))
		return n
	}
	return parseInterestIndex(raw, n)
}

// confirmSelection persists the selected offer, derives the request
// kind, moves the session into contact collection and asks the first
// contact question.
func (s *ConverseService) confirmSelection(ctx context.Context, sess *domain.Session, idx int) error {
	id := sess.LastProposedOfferIDs[idx-1]
	offer, err := s.inventory.GetOffer(ctx, sess.OfferType, id)
	if err != nil {
		return newError(ErrorInternal, "offer_load_error", err)
	}
	if offer == nil {
		return newError(ErrorInternal, "offer_missing", errors.New("selected offer no longer in catalog: "+id))
	}

	snapshot := *offer
	sess.SelectedOfferID = id
	sess.SelectedOffer = &snapshot
	sess.RequestKind = deriveRequestKind(offer)
	sess.Status = domain.StatusCollectingContact
	sess.Contact.Phone = sess.SenderID
	// The batch is consumed; a later "oui" must not re-select from it.
	sess.LastProposedOfferIDs = nil
	sess.LastUpdated = time.Now().UTC()
	if err := s.sessions.Save(ctx, sess); err != nil {
		return newError(ErrorInternal, "session_save_error", err)
	}

	confirm := text(sess.Language, msgSelectionConfirmed) + "\n" + formatOfferCaption(snapshot, sess.Language)
	if err := s.messenger.SendText(ctx, sess.SenderID, confirm); err != nil {
		return newError(ErrorInternal, "send_error", err)
	}
	if err := s.messenger.SendText(ctx, sess.SenderID, contactQuestion(sess.Language, fieldNameSurname)); err != nil {
		return newError(ErrorInternal, "send_error", err)
	}
	return nil
}

// collectContact extracts contact fields from free text, merges them,
// and either asks the next missing field in fixed order or completes
// the request.
func (s *ConverseService) collectContact(ctx context.Context, sess *domain.Session, message string) error {
	raw, err := s.llm.ChatStructured(ctx, s.config().model, buildContactExtractionMessages(sess, message), "contact_info", contactExtractionSchema)
	if err != nil {
		s.log.Warn("contact extraction failed, degrading to empty",
			zap.String("sender", sess.SenderID),
			zap.Error(err))
	} else {
		mergeContact(sess, parseContactExtraction(raw))
	}
	// The channel sender id is authoritative for the phone number.
	sess.Contact.Phone = sess.SenderID
	sess.LastUpdated = time.Now().UTC()

	next := nextMissingContactField(sess)
	if next == fieldNone {
		sess.Status = domain.StatusReady
		if err := s.sessions.Save(ctx, sess); err != nil {
			return newError(ErrorInternal, "session_save_error", err)
		}
		if err := s.messenger.SendText(ctx, sess.SenderID, buildSummary(sess)); err != nil {
			return newError(ErrorInternal, "send_error", err)
		}
		return nil
	}

	if err := s.sessions.Save(ctx, sess); err != nil {
		return newError(ErrorInternal, "session_save_error", err)
	}
	if err := s.messenger.SendText(ctx, sess.SenderID, contactQuestion(sess.Language, next)); err != nil {
		return newError(ErrorInternal, "send_error", err)
	}
	return nil
}

// proposeOffers runs the matching engine, replaces the proposal batch
// and sends the offers. One failed offer send is logged and skipped;
// a failed closing prompt is logged only.
func (s *ConverseService) proposeOffers(ctx context.Context, sess *domain.Session, refused bool) error {
	var exclude []string
	if refused {
		exclude = sess.LastProposedOfferIDs
	}

	res, err := s.matcher.Match(ctx, sess.OfferType, sess.Town, sess.Service, sess.Budget, exclude)
	if err != nil {
		return newError(ErrorInternal, "inventory_error", err)
	}

	batch := res.Matches
	introKey := msgProposalIntro
	if len(batch) == 0 {
		batch = res.Suggestions
		introKey = msgSuggestionIntro
	}

	sess.LastProposedOfferIDs = res.ProposedIDs()
	sess.LastUpdated = time.Now().UTC()
	if err := s.sessions.Save(ctx, sess); err != nil {
		return newError(ErrorInternal, "session_save_error", err)
	}

	if len(batch) == 0 {
		if err := s.messenger.SendText(ctx, sess.SenderID, text(sess.Language, msgNoResults)); err != nil {
			return newError(ErrorInternal, "send_error", err)
		}
		return nil
	}

	if err := s.messenger.SendText(ctx, sess.SenderID, text(sess.Language, introKey)); err != nil {
		return newError(ErrorInternal, "send_error", err)
	}
	for _, offer := range batch {
		if err := s.sendOffer(ctx, sess, offer); err != nil {
			s.log.Warn("offer send failed, continuing batch",
				zap.String("sender", sess.SenderID),
				zap.String("offer", offer.ID),
				zap.Error(err))
		}
	}
	if err := s.messenger.SendText(ctx, sess.SenderID, text(sess.Language, msgProposalClosing)); err != nil {
		s.log.Warn("closing prompt send failed",
			zap.String("sender", sess.SenderID),
			zap.Error(err))
	}
	return nil
}

// sendOffer sends one offer with its first media reference attached,
// falling back to a text-only send when the media send fails.
func (s *ConverseService) sendOffer(ctx context.Context, sess *domain.Session, offer domain.Offer) error {
	caption := formatOfferCaption(offer, sess.Language)
	if len(offer.Images) == 0 {
		return s.messenger.SendText(ctx, sess.SenderID, caption)
	}
	if err := s.messenger.SendMedia(ctx, sess.SenderID, offer.Images[0], caption); err != nil {
		s.log.Warn("media send failed, falling back to text",
			zap.String("offer", offer.ID),
			zap.Error(err))
		return s.messenger.SendText(ctx, sess.SenderID, caption)
	}
	return nil
}

// askMissingSlot generates and sends the conversational question for
// the first missing slot. Reply generation is the one NLU call whose
// failure aborts the turn.
func (s *ConverseService) askMissingSlot(ctx context.Context, sess *domain.Session, message string) error {
	cfg := s.config()
	raw, err := s.llm.Chat(ctx, cfg.model, buildSlotQuestionMessages(cfg.persona, sess, firstMissingSlot(sess), message))
	if err != nil {
		return newError(ErrorUpstream, "nlu_reply_error", err)
	}
	reply := strings.TrimSpace(raw)
	if reply == "" {
		return newError(ErrorUpstream, "nlu_empty_reply", nil)
	}
	if err := s.messenger.SendText(ctx, sess.SenderID, reply); err != nil {
		return newError(ErrorInternal, "send_error", err)
	}
	return nil
}

type runtimeConfig struct {
	model   string
	persona string
}

func (s *ConverseService) config() runtimeConfig {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return runtimeConfig{model: s.model, persona: s.persona}
}

// ensureConfig lazily loads the model name and persona prompt from the
// parameter store, once per process lifetime unless loading fails.
func (s *ConverseService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/openai_model")
	if err != nil {
		return err
	}
	persona, err := s.params.GetParameter(ctx, s.paramPrefix+"/persona_prompt")
	if err != nil {
		return err
	}

	s.model = model
	s.persona = persona
	s.cacheLoaded = true
	return nil
}
