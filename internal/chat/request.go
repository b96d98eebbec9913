package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxRequestBytes caps a decoded chat request body.
const maxRequestBytes = 64 << 10

// ErrMissingMessage is returned by Validate when the message is empty.
var ErrMissingMessage = errors.New("chat: message is required")

// Request is the body of POST /api/chat.
type Request struct {
	// Message is the user's question.
	Message string `json:"message"`
	// PageURL is the page the user is looking at, if known.
	PageURL string `json:"pageUrl,omitempty"`
	// SessionID is an opaque client identifier used for log correlation only.
	SessionID string `json:"sessionId,omitempty"`
}

// DecodeRequest reads a Request from r. A body that is not a JSON object, or
// whose message is not a string, is a decode error.
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	if err := json.NewDecoder(io.LimitReader(r, maxRequestBytes)).Decode(&req); err != nil {
		return Request{}, fmt.Errorf("chat: decode request: %w", err)
	}
	return req, nil
}

// Validate reports ErrMissingMessage when the message is blank.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrMissingMessage
	}
	return nil
}

// Query returns the text embedded for retrieval: the message, followed by
// the current page URL when one is known.
func (r Request) Query() string {
	if r.PageURL == "" {
		return r.Message
	}
	return r.Message + "\n\nUser page: " + r.PageURL
}
