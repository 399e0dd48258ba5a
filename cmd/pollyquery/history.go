package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alexschlessinger/pollyquery/reconciler"
	"github.com/alexschlessinger/pollyquery/sessions"
	"github.com/urfave/cli/v3"
)

func openHistory() (*sessions.FileStore, error) {
	return sessions.NewFileStore("", nil)
}

func nameArg(cmd *cli.Command) (string, error) {
	name := cmd.Args().First()
	if name == "" {
		return "", fmt.Errorf("a conversation name is required")
	}
	if err := sessions.ValidateName(name); err != nil {
		return "", fmt.Errorf("invalid context name '%s': %w", name, err)
	}
	return name, nil
}

func runHistoryList(ctx context.Context, cmd *cli.Command) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	return listConversations(os.Stdout, store)
}

func listConversations(w io.Writer, store sessions.Store) error {
	names, err := store.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(w, "No conversations")
		return nil
	}

	meta := store.AllMetadata()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLAST USED\tSERVER")
	for _, name := range names {
		m := meta[name]
		if m == nil {
			m = &sessions.Metadata{}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, formatWhen(m.LastUsed), m.Server)
	}
	return tw.Flush()
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func runHistoryShow(ctx context.Context, cmd *cli.Command) error {
	name, err := nameArg(cmd)
	if err != nil {
		return err
	}
	store, err := openHistory()
	if err != nil {
		return err
	}
	if !store.Exists(name) {
		return fmt.Errorf("conversation '%s' does not exist", name)
	}

	session, err := store.Get(name)
	if err != nil {
		return err
	}
	defer session.Close()

	msgs, err := session.Load(ctx)
	if err != nil {
		return err
	}
	showConversation(os.Stdout, msgs)
	return nil
}

func showConversation(w io.Writer, msgs []reconciler.Message) {
	for _, m := range msgs {
		switch m.Role {
		case reconciler.RoleUser:
			fmt.Fprintf(w, "> %s\n", m.Content)
		default:
			for _, s := range m.ReasoningSteps {
				switch {
				case s.Tool != "":
					fmt.Fprintf(w, "  [%s] %s %s\n", s.Kind, s.Tool, s.InputString())
				default:
					fmt.Fprintf(w, "  [%s] %s\n", s.Kind, truncate(s.Content, 200))
				}
			}
			status := ""
			switch {
			case m.Failed:
				status = " (failed)"
			case m.IsStreaming:
				status = " (incomplete)"
			}
			fmt.Fprintf(w, "%s%s\n", m.Content, status)
			if m.GeneratedQuery != nil {
				fmt.Fprintf(w, "SQL: %s\n", *m.GeneratedQuery)
			}
		}
		fmt.Fprintln(w)
	}
}

func runHistoryDelete(ctx context.Context, cmd *cli.Command) error {
	name, err := nameArg(cmd)
	if err != nil {
		return err
	}
	store, err := openHistory()
	if err != nil {
		return err
	}
	if err := store.Delete(name); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Deleted conversation: %s\n", name)
	return nil
}
