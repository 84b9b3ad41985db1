package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gregtusar/arbsync/pkg/wire"
)

func newHighestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "highest",
		Short: "Print the persisted highest-profit record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			t := newTracker(ctx, cfg, store)
			defer t.Close(ctx)

			rec := t.Record()
			if rec == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no highest-profit record")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f  %s  (%s)\n", rec.Profit, rec.Route(), rec.Timestamp.Format(time.RFC3339))
			return nil
		},
	}
}

func newResetHighestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-highest",
		Short: "Delete the persisted highest-profit record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			t := newTracker(ctx, cfg, store)
			defer t.Close(ctx)

			if err := t.Reset(ctx); err != nil {
				return err
			}
			logger.WithField("key", cfg.Storage.Key).Info("Highest-profit record cleared")
			return nil
		},
	}
}

// newNormalizeCmd runs the payload adapter on a file or stdin. It needs no
// config and never fails on bad payloads, mirroring the live path.
func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [file]",
		Short: "Normalize an arbitrage payload and print the snapshot as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(wire.NormalizeJSON(data))
		},
	}
}
