// Package cli runs one research session in the terminal: progress events
// stream to stdout as they happen, the plan review happens inline with a
// y/n prompt, and the final report prints when the thread completes.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Milix-M/DeepReSearch/internal/engine"
	"github.com/Milix-M/DeepReSearch/internal/service"
	"github.com/Milix-M/DeepReSearch/internal/streaming"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Config wires the terminal client.
type Config struct {
	Service *service.WorkflowService
	// In feeds the review prompts; defaults to os.Stdin.
	In io.Reader
	// Out receives events, prompts, and the report; defaults to os.Stdout.
	Out io.Writer
	// Auto disables the review: pauses are answered with the default
	// decision and the run goes straight to the report.
	Auto   bool
	Logger *slog.Logger
}

// Runner drives one interactive research session.
type Runner struct {
	svc    *service.WorkflowService
	in     *bufio.Scanner
	out    io.Writer
	auto   bool
	logger *slog.Logger
}

// New builds a Runner. The workflow service is required.
func New(cfg Config) (*Runner, error) {
	if cfg.Service == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "cli requires a workflow service")
	}
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		svc:    cfg.Service,
		in:     bufio.NewScanner(cfg.In),
		out:    cfg.Out,
		auto:   cfg.Auto,
		logger: cfg.Logger,
	}, nil
}

// Run executes the query to completion, handling every review pause on the
// way. The returned error carries the workflow error code when the thread
// fails.
func (r *Runner) Run(ctx context.Context, query string) error {
	threadID := r.svc.NewThreadID()
	fmt.Fprintf(r.out, "Thread started: %s\n", threadID)

	sub, err := r.svc.Subscribe(ctx, streaming.Filter{ThreadID: threadID})
	if err != nil {
		return err
	}
	defer r.svc.Unsubscribe(sub.ID)

	start := func() (*engine.RunOutcome, error) {
		if r.auto {
			return r.svc.RunAuto(ctx, threadID, query)
		}
		return r.svc.StartResearch(ctx, threadID, query)
	}
	outcome, runErr := r.runPrinting(sub, start)

	for {
		if runErr != nil {
			return runErr
		}
		if outcome.Status == schema.ThreadStatusCompleted {
			fmt.Fprintln(r.out, "Workflow completed.")
			if outcome.State != nil && outcome.State.Report != "" {
				fmt.Fprintln(r.out, outcome.State.Report)
			}
			return nil
		}
		if outcome.Interrupt == nil {
			return schema.NewErrorf(schema.ErrCodeInternal,
				"thread %q stopped without an interrupt", threadID)
		}

		if text := outcome.Interrupt.PromptText(); text != "" {
			fmt.Fprintln(r.out, text)
		}
		decision, err := r.promptDecision()
		if err != nil {
			return err
		}
		var plan map[string]any
		if edit, _ := schema.ParseDecision(decision); edit {
			plan = r.promptPlanOverride()
		}

		outcome, runErr = r.runPrinting(sub, func() (*engine.RunOutcome, error) {
			return r.svc.ResumeResearch(ctx, threadID, decision, plan)
		})
	}
}

// runPrinting executes call while printing the thread's events. Events
// publish before the run returns, so the post-run drain only sees buffered
// leftovers.
func (r *Runner) runPrinting(sub *streaming.Subscription, call func() (*engine.RunOutcome, error)) (*engine.RunOutcome, error) {
	type result struct {
		outcome *engine.RunOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := call()
		done <- result{outcome: outcome, err: err}
	}()

	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				res := <-done
				return res.outcome, res.err
			}
			r.printEvent(ev)
		case res := <-done:
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok {
						return res.outcome, res.err
					}
					r.printEvent(ev)
				default:
					return res.outcome, res.err
				}
			}
		}
	}
}

func (r *Runner) printEvent(ev schema.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(r.out, "[event] %s\n", data)
	if ev.Level == schema.LevelError && ev.Message != "" {
		fmt.Fprintf(r.out, "[error] %s\n", ev.Message)
	}
}

// promptDecision reads tokens until one parses as a decision. The raw token
// travels to the engine, which parses it again.
func (r *Runner) promptDecision() (string, error) {
	for {
		fmt.Fprint(r.out, "[y/n] > ")
		if !r.in.Scan() {
			if err := r.in.Err(); err != nil {
				return "", schema.NewError(schema.ErrCodeValidation, "reading decision failed").WithCause(err)
			}
			return "", schema.NewError(schema.ErrCodeValidation, "decision input closed")
		}
		token := strings.TrimSpace(r.in.Text())
		if _, err := schema.ParseDecision(token); err == nil {
			return token, nil
		}
		fmt.Fprintln(r.out, "'y' か 'n' を入力してください。")
	}
}

// promptPlanOverride asks for an optional plan JSON file. Unreadable or
// malformed files are reported and skipped, matching a review that keeps the
// generated plan.
func (r *Runner) promptPlanOverride() map[string]any {
	fmt.Fprint(r.out, "計画JSONのパス（未入力でスキップ）> ")
	if !r.in.Scan() {
		return nil
	}
	path := strings.TrimSpace(r.in.Text())
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(r.out, "計画ファイルを開けませんでした: %v\n", err)
		return nil
	}
	var plan map[string]any
	if err := json.Unmarshal(data, &plan); err != nil {
		fmt.Fprintf(r.out, "計画JSONの解析に失敗しました: %v\n", err)
		return nil
	}
	return plan
}
