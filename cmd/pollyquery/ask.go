package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/alexschlessinger/pollyquery/client"
	"github.com/alexschlessinger/pollyquery/internal/log"
	"github.com/alexschlessinger/pollyquery/reconciler"
	"github.com/alexschlessinger/pollyquery/sessions"
	"github.com/alexschlessinger/pollyquery/steps"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v3"
)

func runAsk(ctx context.Context, cmd *cli.Command) error {
	log.InitLogger(cmd.Bool("debug"))
	defer log.Sync()

	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}

	name := cmd.String("context")
	if err := sessions.ValidateName(name); err != nil {
		return fmt.Errorf("invalid context name '%s': %w", name, err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverURL := cmd.String("server")
	store, err := sessions.NewFileStore("", &sessions.Metadata{Server: serverURL})
	if err != nil {
		return err
	}
	session, err := store.Get(name)
	if err != nil {
		return err
	}
	defer session.Close()

	conv, err := reconciler.OpenConversation(ctx, session)
	if err != nil {
		return err
	}

	out := termenv.NewOutput(os.Stdout)
	if !isTerminal() {
		out = termenv.NewOutput(os.Stdout, termenv.WithProfile(termenv.Ascii))
	}
	r := newTraceRenderer(out, newPalette(out), cmd.Bool("quiet"))
	rec, err := conv.Begin(ctx, question, r.update)
	if err != nil {
		return err
	}

	askErr := client.New(serverURL, nil).Ask(ctx, question, rec)
	r.finish(rec.Message())

	if err := conv.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: conversation not saved: %v\n", err)
	}
	if askErr != nil && !errors.Is(askErr, reconciler.ErrIncomplete) {
		return askErr
	}
	if rec.Message().Failed {
		return cli.Exit("", 2)
	}
	return nil
}

// traceRenderer prints a streaming message incrementally: new reasoning
// steps as they arrive, then answer tokens, then the final result
type traceRenderer struct {
	w     io.Writer
	style palette
	quiet bool

	steps    int
	printed  string
	finished bool
}

func newTraceRenderer(w io.Writer, style palette, quiet bool) *traceRenderer {
	return &traceRenderer{w: w, style: style, quiet: quiet}
}

func (r *traceRenderer) update(m reconciler.Message) {
	if r.quiet || r.finished {
		return
	}

	for _, step := range m.ReasoningSteps[r.steps:] {
		r.step(step)
	}
	r.steps = len(m.ReasoningSteps)

	if m.IsStreaming && strings.HasPrefix(m.Content, r.printed) {
		if delta := m.Content[len(r.printed):]; delta != "" {
			fmt.Fprint(r.w, r.style.answer.Styled(delta))
			r.printed = m.Content
		}
	}
}

func (r *traceRenderer) step(s steps.ReasoningStep) {
	switch s.Kind {
	case steps.KindThought:
		fmt.Fprintln(r.w, r.style.thought.Styled("💭 "+s.Content))
	case steps.KindAction:
		fmt.Fprintln(r.w, r.style.action.Styled("▶ "+s.Tool)+" "+r.style.dim.Styled(s.InputString()))
	case steps.KindObservation:
		fmt.Fprintln(r.w, r.style.observation.Styled("◀ "+truncate(s.Content, 300)))
	}
}

// finish prints whatever the stream did not: the final content when it
// differs from the streamed tokens, the query and the row count
func (r *traceRenderer) finish(m reconciler.Message) {
	if r.finished {
		return
	}
	if !r.quiet {
		r.update(m)
	}
	r.finished = true

	if m.Failed {
		if r.printed != "" {
			fmt.Fprintln(r.w)
		}
		fmt.Fprintln(r.w, r.style.failure.Styled(m.Content))
		return
	}

	switch {
	case r.quiet || r.printed == "":
		fmt.Fprintln(r.w, r.style.answer.Styled(m.Content))
	case r.printed != m.Content:
		fmt.Fprintln(r.w)
		fmt.Fprintln(r.w, r.style.answer.Styled(m.Content))
	default:
		fmt.Fprintln(r.w)
	}

	if r.quiet {
		return
	}
	if m.GeneratedQuery != nil {
		fmt.Fprintln(r.w, r.style.query.Styled("SQL: "+*m.GeneratedQuery))
	}
	if len(m.ResultRows) > 0 {
		fmt.Fprintln(r.w, r.style.dim.Styled(fmt.Sprintf("%d row(s)", len(m.ResultRows))))
	}
}

// truncate keeps the first n runes of s
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
