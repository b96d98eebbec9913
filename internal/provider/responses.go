package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	// defaultResponsesBaseURL is the public OpenAI API root.
	defaultResponsesBaseURL = "https://api.openai.com/v1"

	// Server-sent event types read from the Responses stream.
	eventOutputTextDelta = "response.output_text.delta"
	eventCompleted       = "response.completed"
	eventFailed          = "response.failed"
	eventError           = "error"

	// maxEventBytes bounds one SSE line.
	maxEventBytes = 1 << 20
)

// StatusError is returned when the Responses API answers with a non-2xx status
// before streaming starts.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("provider: responses API returned %d: %s", e.StatusCode, e.Body)
}

// ResponsesConfig holds the settings for constructing a ResponsesModel.
type ResponsesConfig struct {
	// APIKey is the OpenAI secret key.
	APIKey string
	// Model is the model name, e.g. "gpt-4o-mini".
	Model string
	// BaseURL overrides the API root. Defaults to https://api.openai.com/v1.
	BaseURL string
	// MaxOutputTokens caps the reply length; zero leaves it to the API.
	MaxOutputTokens int
	// Temperature controls response randomness.
	Temperature float32
	// Timeout bounds the initial request. The stream itself is bounded by ctx.
	// Defaults to 30s if zero.
	Timeout time.Duration
	// HTTPClient overrides the transport. Used in tests.
	HTTPClient *http.Client
}

// ResponsesModel streams replies from the OpenAI Responses API. It reads the
// server-sent event framing itself and forwards only output text deltas.
type ResponsesModel struct {
	cfg    ResponsesConfig
	client *http.Client
}

var _ model.BaseChatModel = (*ResponsesModel)(nil)

// NewResponsesModel validates cfg and constructs a ResponsesModel.
func NewResponsesModel(cfg *ResponsesConfig) (*ResponsesModel, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("provider: responses backend requires OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		return nil, errors.New("provider: responses backend requires OPENAI_MODEL")
	}
	c := *cfg
	if c.BaseURL == "" {
		c.BaseURL = defaultResponsesBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	client := c.HTTPClient
	if client == nil {
		// No client timeout: it would cut long streams. The dial and header
		// phases are bounded by ResponseHeaderTimeout instead.
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = c.Timeout
		client = &http.Client{Transport: transport}
	}
	return &ResponsesModel{cfg: c, client: client}, nil
}

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model           string           `json:"model"`
	Input           []responsesInput `json:"input"`
	Stream          bool             `json:"stream"`
	Temperature     *float32         `json:"temperature,omitempty"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
}

type responsesEvent struct {
	Type    string `json:"type"`
	Delta   string `json:"delta"`
	Message string `json:"message"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

// errorMessage extracts a failure description from an error or failed event.
func (e *responsesEvent) errorMessage() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != nil && e.Error.Message != "":
		return e.Error.Message
	case e.Response != nil && e.Response.Error != nil:
		return e.Response.Error.Message
	default:
		return e.Type
	}
}

// Generate streams the reply and returns it as a single assistant message.
func (m *ResponsesModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	sr, err := m.Stream(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	defer sr.Close()

	var b strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		b.WriteString(chunk.Content)
	}
	return schema.AssistantMessage(b.String(), nil), nil
}

// Stream opens a streaming response. An error is returned when the request
// cannot be sent or the API answers with a non-2xx status; failures after the
// stream starts are delivered through the reader.
func (m *ResponsesModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	reqBody := responsesRequest{
		Model:           m.cfg.Model,
		Input:           make([]responsesInput, 0, len(input)),
		Stream:          true,
		Temperature:     &m.cfg.Temperature,
		MaxOutputTokens: m.cfg.MaxOutputTokens,
	}
	for _, msg := range input {
		reqBody.Input = append(reqBody.Input, responsesInput{Role: string(msg.Role), Content: msg.Content})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal responses request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("provider: create responses request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: responses request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	sr, sw := schema.Pipe[*schema.Message](16)
	go func() {
		defer resp.Body.Close()
		defer sw.Close()
		if err := readEvents(resp.Body, func(delta string) bool {
			return !sw.Send(schema.AssistantMessage(delta, nil), nil)
		}); err != nil {
			sw.Send(nil, err)
		}
	}()
	return sr, nil
}

// readEvents parses server-sent events from r and calls emit for every
// output text delta. emit returns false when the consumer has gone away.
// It returns nil on a completed event, end of input or consumer exit.
func readEvents(r io.Reader, emit func(delta string) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventBytes)

	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var ev responsesEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case eventOutputTextDelta:
			if ev.Delta == "" {
				continue
			}
			if !emit(ev.Delta) {
				return nil
			}
		case eventCompleted:
			return nil
		case eventFailed, eventError:
			return fmt.Errorf("provider: responses stream failed: %s", ev.errorMessage())
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("provider: read responses stream: %w", err)
	}
	return nil
}
