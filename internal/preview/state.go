package preview

import (
	"context"

	"go-live-preview/internal/contracts"
)

// State is the persisted form of a session.
type State struct {
	Resource  string                `json:"resource"`
	Line      *float64              `json:"line,omitempty"`
	ImageInfo []contracts.ImageInfo `json:"imageInfo"`
	Slot      Slot                  `json:"slot"`
}

// StateStore persists session state across host restarts.
type StateStore interface {
	SaveStates(ctx context.Context, states []State) error
	LoadStates(ctx context.Context) ([]State, error)
}
