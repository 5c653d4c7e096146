package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"txcore/pkg/domain"
)

func init() {
	rootCmd.AddCommand(newInspectCmd())
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <Class|Value>",
		Short: "Load and print one object",
		Long: `The inspect command loads a single object into a fresh root transaction
and prints its value properties and relations.

Example:
  txctl inspect 'Order|1'
  txctl inspect 'OrderItem|2' --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				return runInspect(ctx, e, args[0])
			})
		},
	}
}

func runInspect(ctx context.Context, e *env, arg string) error {
	id, err := domain.ParseObjectID(arg)
	if err != nil {
		return err
	}
	tx, err := e.svc.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Discard(ctx) }()

	obj, err := tx.GetObject(ctx, id)
	if err != nil {
		return err
	}
	view, err := describe(ctx, e.svc.Mapping(), obj)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(view)
	}
	writeView(os.Stdout, view)
	return nil
}
