// Package assistant fronts the generative-AI collaborator: a support chat
// and a cartoon avatar generator.
package assistant

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUpstream wraps any failure of the model provider.
	ErrUpstream = errors.New("assistant: upstream failure")

	// ErrUnavailable is returned when no provider is configured.
	ErrUnavailable = errors.New("assistant: not configured")

	// ErrEmptyPrompt is returned for a blank query or avatar description.
	ErrEmptyPrompt = errors.New("assistant: prompt is required")
)

// FallbackReply is what users see when the assistant fails.
const FallbackReply = "Sorry, I encountered an error. Please try again."

// SystemPrompt frames the support chat.
const SystemPrompt = `You are a helpful and friendly AI assistant for "StockFlow", a stock trading simulation application.
Your goal is to assist users with their questions about the app, help them with stock market queries, and handle bug reports or complaints gracefully.

- If the user asks a general stock market question, provide a helpful and informative answer.
- If the user is asking for help with the app, provide clear instructions.
- If the user is reporting a bug or a complaint, be empathetic, apologize for the inconvenience, and assure them that the feedback has been noted.
- Keep your responses concise and easy to understand.
`

// Role is the speaker of a history message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Text is one text part of a message.
type Text struct {
	Text string `json:"text"`
}

// Message is one prior turn of the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content []Text `json:"content"`
}

// NewMessage builds a single-part message. "assistant" is accepted as an
// alias for the model role.
func NewMessage(role, text string) Message {
	r := RoleUser
	if role == string(RoleModel) || role == "assistant" {
		r = RoleModel
	}
	return Message{Role: r, Content: []Text{{Text: text}}}
}

// Assistant answers support questions and draws avatars.
type Assistant interface {
	// Reply answers query given the prior conversation.
	Reply(ctx context.Context, query string, history []Message) (string, error)

	// Avatar generates a cartoon avatar from a description and returns it
	// as a data URI.
	Avatar(ctx context.Context, description string) (string, error)
}

// AvatarPrompt wraps a user's description in the avatar style instructions.
func AvatarPrompt(description string) string {
	return fmt.Sprintf(`Generate a funny, cartoon-style avatar based on the following description: "%s". `+
		`The style should be playful, exaggerated, and suitable for a profile picture in a stock trading app. `+
		`Ensure the background is simple and clean.`, description)
}

// DataURI encodes image bytes as data:<mime>;base64,<data>.
func DataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Unavailable is the assistant used when no provider key is configured.
type Unavailable struct{}

func (Unavailable) Reply(context.Context, string, []Message) (string, error) {
	return "", ErrUnavailable
}

func (Unavailable) Avatar(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

func validatePrompt(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyPrompt
	}
	return nil
}
