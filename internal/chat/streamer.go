// Package chat answers a user question by retrieving site passages and
// streaming a generated reply to a Sink one fragment at a time.
//
// Every request runs through a fixed state sequence and always ends in DONE
// or ERROR. Failures never surface raw errors to the client: each failing
// stage emits exactly one fixed fallback message instead.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/sitechat-go/internal/budget"
	"github.com/54b3r/sitechat-go/internal/logging"
	"github.com/54b3r/sitechat-go/internal/rag"
)

// State is a step of the chat flow.
type State int

const (
	StateReceived State = iota
	StateValidating
	StateRetrieving
	StateGenerating
	StateStreaming
	StateDone
	StateError
)

var stateNames = [...]string{"RECEIVED", "VALIDATING", "RETRIEVING", "GENERATING", "STREAMING", "DONE", "ERROR"}

// String returns the state's upper-case name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s ends the flow.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// Sink receives the text events of one reply. Send returns an error when the
// client is gone.
type Sink interface {
	Send(text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(text string) error

// Send calls f(text).
func (f SinkFunc) Send(text string) error { return f(text) }

// Retriever ranks stored chunks for a query vector. *rag.Ranker satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, queryEmbedding []float32, currentPageURL string, k int) []rag.Hit
}

// Fallbacks are the fixed messages sent when a stage fails.
type Fallbacks struct {
	// Prompt answers an empty or malformed request.
	Prompt string
	// Unavailable is sent when generation cannot start.
	Unavailable string
	// Interrupted is sent when generation fails mid-stream.
	Interrupted string
	// Internal is sent after a recovered panic.
	Internal string
}

// DefaultFallbacks returns the stock fallback wording.
func DefaultFallbacks() Fallbacks {
	return Fallbacks{
		Prompt:      "Please type a question.",
		Unavailable: "Sorry—temporary issue. Please try again shortly.",
		Interrupted: "Sorry—something went wrong while generating the reply.",
		Internal:    "Sorry—server error. Please try again.",
	}
}

// Config holds the settings for constructing a Streamer.
type Config struct {
	// SystemPrompt instructs the model. Defaults to DefaultSystemPrompt.
	SystemPrompt string

	// TopK is the number of hits requested from the retriever.
	// Defaults to rag.DefaultMaxTotal if zero.
	TopK int

	// MaxContextTokens bounds system prompt, question and context together.
	// Lowest ranked blocks are dropped first. Defaults to
	// budget.DefaultMaxContextTokens if zero; negative disables trimming.
	MaxContextTokens int

	// Fallbacks overrides individual fallback messages; blanks keep the default.
	Fallbacks Fallbacks
}

// Result describes how one Stream call ended.
type Result struct {
	// State is DONE or ERROR.
	State State
	// Events is the number of events delivered to the sink.
	Events int
	// Hits is the number of context passages used.
	Hits int
	// ClientGone is true when the sink rejected a write.
	ClientGone bool
	// Err is the underlying cause for logs and metrics; never shown to clients.
	Err error
	// Took is the total duration of the call.
	Took time.Duration
}

// Outcome is a low-cardinality label summarising the result.
func (r Result) Outcome() string {
	switch {
	case r.ClientGone:
		return "client_gone"
	case errors.Is(r.Err, ErrMissingMessage), errors.Is(r.Err, errInvalidRequest):
		return "invalid"
	case r.State == StateError:
		return "error"
	case r.Err != nil:
		return "unavailable"
	default:
		return "ok"
	}
}

// errInvalidRequest marks a request that failed to decode.
var errInvalidRequest = errors.New("chat: invalid request")

// InvalidRequest wraps a decode error so the streamer answers it with the
// prompt fallback.
func InvalidRequest(err error) error {
	return fmt.Errorf("%w: %w", errInvalidRequest, err)
}

// Streamer runs the retrieval-augmented answer flow. It holds no per-request
// state and is safe for concurrent use.
type Streamer struct {
	embedder  rag.Embedder
	retriever Retriever
	model     model.BaseChatModel
	cfg       Config
}

// NewStreamer constructs a Streamer from its dependencies.
func NewStreamer(embedder rag.Embedder, retriever Retriever, chatModel model.BaseChatModel, cfg Config) (*Streamer, error) {
	if embedder == nil {
		return nil, errors.New("chat: embedder must not be nil")
	}
	if retriever == nil {
		return nil, errors.New("chat: retriever must not be nil")
	}
	if chatModel == nil {
		return nil, errors.New("chat: chat model must not be nil")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.TopK <= 0 {
		cfg.TopK = rag.DefaultMaxTotal
	}
	if cfg.MaxContextTokens == 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	def := DefaultFallbacks()
	cfg.Fallbacks.Prompt = orDefault(cfg.Fallbacks.Prompt, def.Prompt)
	cfg.Fallbacks.Unavailable = orDefault(cfg.Fallbacks.Unavailable, def.Unavailable)
	cfg.Fallbacks.Interrupted = orDefault(cfg.Fallbacks.Interrupted, def.Interrupted)
	cfg.Fallbacks.Internal = orDefault(cfg.Fallbacks.Internal, def.Internal)

	return &Streamer{
		embedder:  embedder,
		retriever: retriever,
		model:     chatModel,
		cfg:       cfg,
	}, nil
}

// Stream answers req, writing each generated fragment to sink as it arrives.
// It never panics and always returns a terminal Result.
func (s *Streamer) Stream(ctx context.Context, req Request, sink Sink) (res Result) {
	start := time.Now()
	log := logging.FromContext(ctx).With(slog.String("session_id", req.SessionID))
	res.State = StateReceived

	defer func() {
		if r := recover(); r != nil {
			log.Error("chat: panic recovered", slog.Any("panic", r), slog.String("state", res.State.String()))
			res.Err = fmt.Errorf("chat: panic in %s: %v", res.State, r)
			if !res.ClientGone {
				func() {
					defer func() { _ = recover() }()
					_ = s.send(sink, &res, s.cfg.Fallbacks.Internal)
				}()
			}
			res.State = StateError
		}
		if !res.State.Terminal() {
			log.Error("chat: flow ended without a terminal state", slog.String("state", res.State.String()))
			res.State = StateError
		}
		res.Took = time.Since(start)
	}()

	res.State = StateValidating
	if err := req.Validate(); err != nil {
		return s.finish(sink, res, StateDone, s.cfg.Fallbacks.Prompt, err)
	}

	res.State = StateRetrieving
	hits := s.retrieve(ctx, req)
	res.Hits = len(hits)

	res.State = StateGenerating
	msgs := s.messages(ctx, req.Message, hits)

	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "sitechat",
		Type:      "Answer",
		Component: components.ComponentOfChatModel,
	})
	sr, err := s.model.Stream(ctx, msgs)
	if err != nil {
		log.Error("chat: generation failed to start", slog.String("error", err.Error()))
		return s.finish(sink, res, StateDone, s.cfg.Fallbacks.Unavailable, fmt.Errorf("chat: start generation: %w", err))
	}
	defer sr.Close()

	res.State = StateStreaming
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Error("chat: generation failed mid-stream", slog.String("error", err.Error()), slog.Int("events", res.Events))
			return s.finish(sink, res, StateError, s.cfg.Fallbacks.Interrupted, fmt.Errorf("chat: stream: %w", err))
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		if err := s.send(sink, &res, msg.Content); err != nil {
			log.Info("chat: client went away", slog.Int("events", res.Events))
			res.Err = err
			res.State = StateDone
			return res
		}
	}

	res.State = StateDone
	log.Debug("chat: reply streamed", slog.Int("events", res.Events), slog.Int("hits", res.Hits))
	return res
}

// StreamInvalid answers a request body that could not be decoded with the
// prompt fallback.
func (s *Streamer) StreamInvalid(sink Sink, decodeErr error) Result {
	start := time.Now()
	res := s.finish(sink, Result{State: StateValidating}, StateDone, s.cfg.Fallbacks.Prompt, InvalidRequest(decodeErr))
	res.Took = time.Since(start)
	return res
}

// retrieve embeds the query and ranks hits. Failures yield no hits.
func (s *Streamer) retrieve(ctx context.Context, req Request) []rag.Hit {
	log := logging.FromContext(ctx)

	vectors, err := s.embedder.Embed(ctx, []string{req.Query()})
	if err != nil {
		log.Warn("chat: query embedding failed, answering without context", slog.String("error", err.Error()))
		return nil
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		log.Warn("chat: query embedding returned no vector", slog.Int("vectors", len(vectors)))
		return nil
	}
	return s.retriever.Retrieve(ctx, vectors[0], req.PageURL, s.cfg.TopK)
}

// messages assembles the prompt, trimming context blocks to the token budget.
func (s *Streamer) messages(ctx context.Context, message string, hits []rag.Hit) []*schema.Message {
	blocks := ContextBlocks(hits)
	fixed := BuildMessages(s.cfg.SystemPrompt, message, nil)
	kept := budget.TrimBlocks(fixed, blocks, blockSeparator, s.cfg.MaxContextTokens)
	if len(kept) < len(blocks) {
		logging.FromContext(ctx).Warn("chat: context trimmed to fit token budget",
			slog.Int("blocks", len(blocks)),
			slog.Int("kept", len(kept)),
			slog.Int("max_tokens", s.cfg.MaxContextTokens),
		)
	}
	return BuildMessages(s.cfg.SystemPrompt, message, kept)
}

// send writes one event and counts it.
func (s *Streamer) send(sink Sink, res *Result, text string) error {
	if err := sink.Send(text); err != nil {
		res.ClientGone = true
		return err
	}
	res.Events++
	return nil
}

// finish emits a single fallback event and ends the flow in state.
func (s *Streamer) finish(sink Sink, res Result, state State, fallback string, cause error) Result {
	res.State = StateStreaming
	_ = s.send(sink, &res, fallback)
	res.State = state
	res.Err = cause
	return res
}

// orDefault returns v, or def when v is blank.
func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
