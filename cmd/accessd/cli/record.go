package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Manage application records",
		Long:  "Store and remove the application records that record and bearer access methods authenticate.",
	}

	cmd.AddCommand(newRecordPutCmd())
	cmd.AddCommand(newRecordRemoveCmd())

	return cmd
}

func newRecordPutCmd() *cobra.Command {
	var (
		fields []string
		hashed []string
	)

	cmd := &cobra.Command{
		Use:     "put <table:key>",
		Short:   "Create or replace a record",
		Example: `  accessd record put user:alice --ns acme --db main --field email=alice@example.com --field pass=secret --hash pass`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := currentLevel()
			if err != nil {
				return err
			}
			id, err := model.ParseRecordID(args[0])
			if err != nil {
				return err
			}
			values, err := parsePairs(fields)
			if err != nil {
				return err
			}
			rec := &model.Record{ID: id, Fields: make(map[string]any, len(values))}
			for k, v := range values {
				rec.Fields[k] = v
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			if err := a.update(ctx, func(tx kvs.Transaction) error {
				return a.auth.PutRecord(ctx, tx, level, rec, hashed...)
			}); err != nil {
				return fmt.Errorf("put record: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored record %s on %s\n", id, level)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&fields, "field", nil, "Field as key=value (repeatable)")
	cmd.Flags().StringSliceVar(&hashed, "hash", nil, "Fields to store as password hashes")

	return cmd
}

func newRecordRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <table:key>",
		Aliases: []string{"rm"},
		Short:   "Remove a record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := currentLevel()
			if err != nil {
				return err
			}
			id, err := model.ParseRecordID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			if err := a.update(ctx, func(tx kvs.Transaction) error {
				return a.auth.RemoveRecord(ctx, tx, level, id)
			}); err != nil {
				return fmt.Errorf("remove record: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed record %s from %s\n", id, level)
			return nil
		},
	}
}
