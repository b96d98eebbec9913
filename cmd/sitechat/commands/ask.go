package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/sitechat-go/internal/chat"
	"github.com/54b3r/sitechat-go/internal/logging"
)

// NewAskCmd constructs the `sitechat ask` command, which runs one question
// through the same streamer as POST /api/chat and prints the reply to stdout.
func NewAskCmd() *cobra.Command {
	var pageURL string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the indexed site",
		Long: `Ask a question and stream the answer to stdout.

Retrieval, prompting and fallbacks are identical to POST /api/chat, which
makes ask useful for checking an index before exposing the server.

Examples:
  sitechat ask "what is the return window?"
  sitechat ask --page https://www.example.com/products/mug "is this dishwasher safe?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			vs, _, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = vs.Close() }()

			streamer, _, err := buildStreamer(ctx, log, vs)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			res := streamer.Stream(ctx, chat.Request{
				Message: strings.Join(args, " "),
				PageURL: pageURL,
			}, chat.SinkFunc(func(text string) error {
				_, err := fmt.Fprint(out, text)
				return err
			}))
			fmt.Fprintln(out)

			if res.State == chat.StateError {
				return fmt.Errorf("ask: reply ended with %s: %v", res.Outcome(), res.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pageURL, "page", "", "URL of the page the question is asked from")

	return cmd
}
