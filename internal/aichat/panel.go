package aichat

import (
	"context"
	"errors"
)

var (
	ErrPanelUnavailable = errors.New("ai chat panel not available")
	ErrComposerNotFound = errors.New("ai chat composer not found")
	ErrSendNotFound     = errors.New("ai chat send button not found")
	ErrSendDisabled     = errors.New("ai chat send button disabled")
)

// Panel is the part of the AI chat UI the composer drives.
type Panel interface {
	// Visible reports whether the panel root is rendered and shown.
	Visible(ctx context.Context) (bool, error)
	// Open asks the editor to toggle the panel open.
	Open(ctx context.Context) error
	// SetPrompt writes text into the composer and fires its input events.
	SetPrompt(ctx context.Context, text string) error
	// Prompt reads the composer's current text.
	Prompt(ctx context.Context) (string, error)
	// SendEnabled reports whether the send button exists and is enabled.
	SendEnabled(ctx context.Context) (bool, error)
	Send(ctx context.Context) error
}
