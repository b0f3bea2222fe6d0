package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"agentstream/internal/boundary"
	"agentstream/internal/frame"
	"agentstream/internal/logging"
	"agentstream/internal/transport"
	"agentstream/internal/trigger"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	askRaw       bool
	askAgentPath string
)

// askCmd streams a single question to the terminal.
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the agent one question and stream the answer",
	Long: `Mints a session id, fires the backend trigger for the question, then
opens the streaming channel and follows it to completion.

By default the finished answer (and its evaluation, if the backend appends
one) is rendered as markdown. With --raw, data payloads are written to stdout
verbatim as they arrive and status events go to stderr.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "Print payloads verbatim instead of rendering markdown")
	askCmd.Flags().StringVar(&askAgentPath, "agent-path", "", "Override the trigger path for this question")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	question := strings.Join(args, " ")
	sessionID := uuid.NewString()
	logger.Info("Asking", zap.String("session_id", sessionID))
	logging.Session("ask sid=%s", sessionID)
	logging.Transcript(logging.TranscriptEvent{
		EventType: logging.TranscriptSessionStart,
		SessionID: sessionID,
		Detail:    "ask",
	})
	defer logging.Transcript(logging.TranscriptEvent{
		EventType: logging.TranscriptSessionEnd,
		SessionID: sessionID,
	})

	endpoints := endpointsFor(cfg)
	client := trigger.NewClient(endpoints, authorizerFor(cfg))
	assembler := boundary.New(discardTargets{}, nil, boundary.NopEscaper{})

	done := make(chan error, 1)
	handler := transport.HandlerFuncs{
		Frame: func(f frame.Frame) {
			assembler.HandleFrame(f)
			if !askRaw {
				return
			}
			switch f.Kind {
			case frame.KindData:
				for _, seg := range frame.SplitSegments(f.Text) {
					if seg.Kind == frame.SegmentImage {
						fmt.Println(seg.DataURI())
					} else {
						fmt.Print(seg.Text)
					}
				}
			case frame.KindEvent:
				fmt.Fprintf(os.Stderr, "[%s]\n", f.Text)
			}
		},
		MessageComplete: assembler.HandleMarker,
		StatusUpdate: func(status string) {
			fmt.Fprintln(os.Stderr, status)
		},
		Closed: func(err error) {
			done <- err
		},
	}

	streamURL, err := endpoints.StreamURL(sessionID)
	if err != nil {
		return err
	}
	conn := transport.New(streamURL, transportConfigFor(cfg, 5), handler)
	defer conn.Close()

	if err := client.Fire(ctx, askAgentPath, question, sessionID); err != nil {
		return err
	}
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("could not reach the stream: %w", err)
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("stream ended early: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if askRaw {
		fmt.Println()
		return nil
	}
	return renderAnswer(assembler)
}

// renderAnswer renders the assembled markdown to the terminal.
func renderAnswer(a *boundary.Assembler) error {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		// Fall back to plain output rather than losing the answer.
		fmt.Println(a.Answer())
		if eval := a.Evaluation(); eval != "" {
			fmt.Println(eval)
		}
		return nil
	}

	out, err := renderer.Render(a.Answer())
	if err != nil {
		fmt.Println(a.Answer())
	} else {
		fmt.Print(out)
	}

	if eval := a.Evaluation(); eval != "" {
		evalOut, err := renderer.Render("---\n**Evaluation**\n\n" + eval)
		if err != nil {
			fmt.Println(eval)
		} else {
			fmt.Print(evalOut)
		}
	}
	return nil
}

// discardTargets satisfies boundary.TargetFactory when streaming rendering
// is not needed; the assembler's own accumulation is the render source.
type discardTargets struct{}

func (discardTargets) NewTarget(boundary.Phase) boundary.Target { return discardTarget{} }

type discardTarget struct{}

func (discardTarget) Append(frame.Segment) {}
func (discardTarget) Finalize()            {}
