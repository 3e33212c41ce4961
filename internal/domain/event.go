package domain

// InboundMessage is one conversational event delivered by the messaging
// channel. Voice messages are transcribed to text upstream, so Text is
// always populated.
type InboundMessage struct {
	SenderID string
	Text     string
}
