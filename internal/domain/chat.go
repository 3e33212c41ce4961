package domain

// ChatMessage is the provider-agnostic chat message shape exchanged
// between the dialogue controller and the NLU client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
