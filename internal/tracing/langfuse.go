// Package tracing wires optional Langfuse tracing into eino's global
// callback handlers so every chat generation is recorded.
package tracing

import (
	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/sitechat-go/internal/config"
	"github.com/54b3r/sitechat-go/internal/version"
)

// DefaultHost is the Langfuse endpoint used when LANGFUSE_HOST is unset.
const DefaultHost = "https://cloud.langfuse.com"

// Settings are the Langfuse credentials resolved from the environment.
type Settings struct {
	Host      string
	PublicKey string
	SecretKey string
}

// Enabled reports whether both keys are present.
func (s Settings) Enabled() bool {
	return s.PublicKey != "" && s.SecretKey != ""
}

// FromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY.
func FromEnv() Settings {
	return Settings{
		Host:      config.String("LANGFUSE_HOST", DefaultHost),
		PublicKey: config.String("LANGFUSE_PUBLIC_KEY", ""),
		SecretKey: config.String("LANGFUSE_SECRET_KEY", ""),
	}
}

// Setup registers a Langfuse callback handler globally when s is enabled and
// returns a flush function that must be called before process exit. When
// tracing is disabled it returns a no-op flush and false.
func Setup(s Settings) (flush func(), enabled bool) {
	if !s.Enabled() {
		return func() {}, false
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      s.Host,
		PublicKey: s.PublicKey,
		SecretKey: s.SecretKey,
		Name:      "sitechat",
		Release:   version.Version,
	})
	callbacks.AppendGlobalHandlers(handler)
	return flusher, true
}
