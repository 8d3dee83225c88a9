package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/aschepis/backscratcher/streamchat/chat"
	streamctx "github.com/aschepis/backscratcher/streamchat/context"
	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/aschepis/backscratcher/streamchat/llm/cache"
	"github.com/aschepis/backscratcher/streamchat/llm/retry"
	"github.com/aschepis/backscratcher/streamchat/llm/stream"
	"github.com/spf13/cobra"
)

// newChatCmd creates the `streamchat chat` command.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Stream an answer to a prompt",
		Long: `Sends the conversation, plus the prompt as a final user turn, and
streams the answer to stdout. With thinking enabled the reasoning transcript
is printed first, framed as [{"reasoning": "..."}].

Examples:
  streamchat chat "What is a monad?"
  streamchat chat --thinking off --model claude-3-5-haiku-latest "Quick question"
  streamchat chat --conversation chat.yaml`,
		RunE: runChat,
	}

	cmd.Flags().String("conversation", "", "YAML conversation file to send")
	cmd.Flags().String("conversation-id", "", "conversation id for prompt caching (overrides the file's id)")
	cmd.Flags().StringP("model", "m", "", "model to use (overrides config)")
	cmd.Flags().StringP("thinking", "t", "", "thinking level: off|minimal|low|medium|high|very_high|maximum or a token budget")
	cmd.Flags().Int64("max-tokens", 0, "maximum output tokens (overrides config)")
	cmd.Flags().String("debug-events", "", "append every raw provider event to this file")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	convPath, _ := cmd.Flags().GetString("conversation")
	conv, baseDir, err := loadConversation(convPath)
	if err != nil {
		return err
	}
	turns, err := buildTurns(conv, baseDir, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if len(turns) < 2 {
		return fmt.Errorf("nothing to send: pass a prompt or a conversation with turns")
	}

	provider, err := a.provider()
	if err != nil {
		return err
	}

	var sink llm.UsageSink
	if !a.cfg.Usage.Disabled {
		store, err := a.usageStore(ctx)
		if err != nil {
			return err
		}
		sink = store
	}

	if path, _ := cmd.Flags().GetString("debug-events"); path != "" {
		hook, closeHook, err := fileEventHook(path)
		if err != nil {
			return err
		}
		defer closeHook()
		ctx = streamctx.WithRawEventHook(ctx, hook)
	}

	controller := retry.NewController(a.cfg.Backoff(), a.logger)
	loop := retry.NewLoop(controller, a.cfg.MaxRetries(), a.logger)
	svc := chat.NewService(provider, cache.NewSelector(a.logger), loop, sink, chat.Defaults{
		Model:         a.cfg.Model,
		MaxTokens:     a.cfg.MaxTokens,
		Temperature:   a.cfg.Temperature,
		ThinkingLevel: a.cfg.ThinkingLevel,
		Betas:         a.cfg.Betas,
		Component:     a.cfg.Usage.Component,
	}, a.logger)

	req := chat.Request{ConversationID: conv.ID, Turns: turns}
	if id, _ := cmd.Flags().GetString("conversation-id"); id != "" {
		req.ConversationID = id
	}
	req.Model, _ = cmd.Flags().GetString("model")
	req.ThinkingLevel, _ = cmd.Flags().GetString("thinking")
	req.MaxTokens, _ = cmd.Flags().GetInt64("max-tokens")

	reducer, err := svc.StreamChat(ctx, req)
	if err != nil {
		return err
	}
	return printFragments(cmd.OutOrStdout(), reducer)
}

// printFragments writes every fragment as it arrives and ends with a newline.
func printFragments(w io.Writer, reducer *stream.Reducer) error {
	for fragment, err := range reducer.All() {
		if err != nil {
			fmt.Fprintln(w) //nolint:errcheck // best effort
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("interrupted")
			}
			return fmt.Errorf("stream failed: %w", err)
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// fileEventHook returns a hook appending "<type>\t<raw json>" lines to path.
func fileEventHook(path string) (streamctx.RawEventHook, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //#nosec 304 -- user-supplied debug file
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open debug events file %q: %w", path, err)
	}
	var mu sync.Mutex
	hook := func(eventType, raw string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(f, "%s\t%s\n", eventType, raw) //nolint:errcheck // debugging aid
	}
	return hook, func() { f.Close() }, nil //nolint:errcheck // best effort
}
