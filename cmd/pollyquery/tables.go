package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/alexschlessinger/pollyquery/datastore"
	"github.com/urfave/cli/v3"
)

func runTables(ctx context.Context, cmd *cli.Command) error {
	store, err := datastore.OpenReadOnly(cmd.String("db"))
	if err != nil {
		return err
	}
	defer store.Close()
	return printTables(ctx, os.Stdout, store)
}

func printTables(ctx context.Context, w io.Writer, store *datastore.Store) error {
	names, err := store.ListTables(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tROWS")
	for _, name := range names {
		count, err := store.CountRows(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\n", name, count)
	}
	return tw.Flush()
}
