package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agentstream/cmd/astream/ui"
	"agentstream/internal/batch"
	"agentstream/internal/config"
	"agentstream/internal/logging"
	"agentstream/internal/trigger"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	batchPlain     bool
	batchFile      string
	batchDelay     time.Duration
	batchAgentPath string
)

// batchCmd fans a list of questions out as sequential units.
var batchCmd = &cobra.Command{
	Use:   "batch [question]...",
	Short: "Run several questions as an ordered batch",
	Long: `Runs each question as its own unit: fresh session id, its own trigger,
its own streaming connection. Units execute strictly in order with a throttle
delay between them; one unit failing never touches its siblings.

Questions come from the arguments, or one per line from --file. The default
interactive view shows a card per unit; press r to retry the selected failed
unit and q to quit. --plain prints progress lines instead, for CI logs.`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().BoolVar(&batchPlain, "plain", false, "Line-oriented progress output instead of the interactive view")
	batchCmd.Flags().StringVar(&batchFile, "file", "", "Read questions from a file, one per line")
	batchCmd.Flags().DurationVar(&batchDelay, "delay", 0, "Throttle delay between units (default from config)")
	batchCmd.Flags().StringVar(&batchAgentPath, "agent-path", "", "Override the trigger path for every question")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	questions, err := collectQuestions(args)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return fmt.Errorf("no questions given (pass them as arguments or via --file)")
	}

	reqs := make([]batch.Request, len(questions))
	for i, q := range questions {
		reqs[i] = batch.Request{
			SubID:     fmt.Sprintf("q%d", i+1),
			Question:  q,
			AgentPath: batchAgentPath,
		}
	}

	auth := authorizerFor(cfg)
	if !auth.IsLoggedIn() {
		return fmt.Errorf("no credentials configured (set --token or AGENTSTREAM_TOKEN)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Batches run long enough that tweaking the logging section mid-flight
	// is worth supporting. The watcher reloads logging config itself; the
	// callback just records that new settings took effect.
	watcher, err := config.NewWatcher(resolvedConfigPath(), func(updated *config.Config) {
		logger.Info("Config reloaded", zap.String("log_level", updated.Logging.Level))
	})
	if err != nil {
		logger.Warn("Config watcher unavailable", zap.Error(err))
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("Config watcher failed to start", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	endpoints := endpointsFor(cfg)
	client := trigger.NewClient(endpoints, auth)
	factory := batch.WebsocketFactory(endpoints, transportConfigFor(cfg, cfg.Batch.UnitMaxRetries))

	bcfg := batch.Config{InterUnitDelay: cfg.GetInterUnitDelay()}
	if batchDelay > 0 {
		bcfg.InterUnitDelay = batchDelay
	}

	logger.Info("Starting batch", zap.Int("units", len(reqs)))
	logging.Session("batch starting with %d units", len(reqs))

	if batchPlain {
		return runBatchPlain(ctx, reqs, client, factory, bcfg)
	}
	return runBatchUI(ctx, cancel, reqs, client, factory, bcfg)
}

// collectQuestions merges argument questions with --file lines.
func collectQuestions(args []string) ([]string, error) {
	questions := append([]string(nil), args...)
	if batchFile == "" {
		return questions, nil
	}

	f, err := os.Open(batchFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read questions file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	return questions, scanner.Err()
}

// runBatchUI drives the batch under the interactive card view.
func runBatchUI(ctx context.Context, cancel context.CancelFunc, reqs []batch.Request, client *trigger.Client, factory batch.ConnFactory, bcfg batch.Config) error {
	events := ui.NewEvents()
	o := batch.New(reqs, client, factory, events, bcfg)

	go func() {
		events.RunDone(o.Run(ctx))
	}()

	model := ui.NewModel(reqs, events, ui.Controls{
		Retry: func(subID string) {
			go func() {
				if err := o.Retry(context.Background(), subID); err != nil {
					logging.BatchWarn("retry rejected: %v", err)
				}
			}()
		},
		Quit: func() {
			cancel()
			if err := o.Cleanup(); err != nil {
				logging.BatchWarn("cleanup: %v", err)
			}
		},
	})

	p := tea.NewProgram(model)
	if _, err := p.Run(); err != nil {
		cancel()
		o.Cleanup()
		return fmt.Errorf("interactive view failed: %w", err)
	}

	printBatchSummary(o)
	return nil
}

// runBatchPlain drives the batch with line-oriented output.
func runBatchPlain(ctx context.Context, reqs []batch.Request, client *trigger.Client, factory batch.ConnFactory, bcfg batch.Config) error {
	o := batch.New(reqs, client, factory, plainSink{}, bcfg)
	err := o.Run(ctx)
	if cleanupErr := o.Cleanup(); cleanupErr != nil {
		logging.BatchWarn("cleanup: %v", cleanupErr)
	}
	printBatchSummary(o)
	return err
}

// plainSink prints one line per state change, safe for CI logs.
type plainSink struct{}

func (plainSink) UnitChanged(u batch.Unit) {
	switch u.State {
	case batch.UnitCompleted:
		fmt.Printf("%s: completed (%d chars)\n", u.SubID, len(u.Content))
	case batch.UnitError:
		fmt.Printf("%s: error: %s\n", u.SubID, u.ErrorMessage)
	case batch.UnitProcessing, batch.UnitPending, batch.UnitQueued:
		// Content deltas are too chatty for plain mode; states suffice.
		if u.Content == "" {
			fmt.Printf("%s: %s\n", u.SubID, u.State)
		}
	}
}

func (plainSink) Progress(completed, total int) {
	fmt.Printf("progress: %d/%d\n", completed, total)
}

func printBatchSummary(o *batch.Orchestrator) {
	units := o.Units()
	completed := o.CompletedCount()
	fmt.Printf("\n%d/%d completed\n", completed, len(units))
	for _, u := range units {
		if u.State == batch.UnitError {
			fmt.Printf("  %s failed: %s\n", u.SubID, u.ErrorMessage)
		}
	}
}
