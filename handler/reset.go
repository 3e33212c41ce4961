package handler

import (
	"context"
	"encoding/json"
	"errors"
)

// SessionPurger deletes all stored dialogue sessions.
type SessionPurger interface {
	PurgeAll(ctx context.Context) (int, error)
}

// ResetHandler is the Lambda shim for the out-of-band administrative
// reset. It is invoked directly (no API gateway); the conversational
// service never calls it.
type ResetHandler struct {
	sessions SessionPurger
}

func NewResetHandler(p SessionPurger) (*ResetHandler, error) {
	if p == nil {
		return nil, errors.New("handler: session purger must not be nil")
	}
	return &ResetHandler{sessions: p}, nil
}

// ResetResponse reports how many session records the purge removed.
type ResetResponse struct {
	Deleted int `json:"deleted"`
}

func (h *ResetHandler) Handle(ctx context.Context, _ json.RawMessage) (ResetResponse, error) {
	deleted, err := h.sessions.PurgeAll(ctx)
	if err != nil {
		return ResetResponse{Deleted: deleted}, err
	}
	return ResetResponse{Deleted: deleted}, nil
}
