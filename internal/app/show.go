package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent spread records for a market.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show spreads")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecent(ctx, strings.ToLower(opts.Market), opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no spreads found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tMarket\tValue\tRecorded (UTC)\tActive")

	for _, record := range records {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%t\n",
			record.ID,
			record.Market,
			record.Value.String(),
			record.RecordedAt.UTC().Format(time.RFC3339),
			record.Active,
		)
	}

	writer.Flush()
	return nil
}
