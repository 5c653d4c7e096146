package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"txcore/pkg/domain"
	"txcore/plugins/orders"
)

var (
	demoPark    string
	demoMetrics bool
)

func init() {
	cmd := newDemoCmd()
	cmd.Flags().StringVar(&demoPark, "park", "", "Archive the hierarchy under this name instead of committing it")
	cmd.Flags().BoolVar(&demoMetrics, "metrics", false, "Print operation counters after the run")
	rootCmd.AddCommand(cmd)
}

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the order scenario and print the resulting state",
		Long: `The demo command opens a root transaction, edits Order|1 in a
sub-transaction (setting OrderNumber to 3, rolling back, then setting 5),
moves OrderItem|1 to Order|2 and adds a new item to Order|1. The hierarchy is
then committed to the store, or parked in the archive with --park.

Example:
  txctl demo
  txctl demo --park pending-orders
  TXCORE_STORAGE_DRIVER=sqlite txctl demo --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, runDemo)
		},
	}
}

// demoResult is what demo prints.
type demoResult struct {
	Parked  string       `json:"parked,omitempty"`
	Created string       `json:"created"`
	Orders  []objectView `json:"orders"`
}

func runDemo(ctx context.Context, e *env) error {
	root, err := e.svc.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = root.Discard(ctx) }()

	loaded, err := root.GetObjects(ctx, orders.Order1, orders.Order2, orders.OrderItem1)
	if err != nil {
		return err
	}
	order1, order2, item1 := loaded[0], loaded[1], loaded[2]

	sub, err := root.CreateSubTransaction(ctx)
	if err != nil {
		return err
	}
	if err := order1.SetValue(ctx, "OrderNumber", int64(3)); err != nil {
		return err
	}
	if err := sub.Rollback(ctx); err != nil {
		return err
	}
	if err := order1.SetValue(ctx, "OrderNumber", int64(5)); err != nil {
		return err
	}
	if err := sub.Commit(ctx); err != nil {
		return err
	}
	if err := sub.Discard(ctx); err != nil {
		return err
	}

	if err := item1.SetRelated(ctx, orders.PropOrder, order2); err != nil {
		return err
	}
	item, err := root.NewObject(ctx, orders.ClassOrderItem)
	if err != nil {
		return err
	}
	if err := item.SetValue(ctx, "Product", "Keyboard"); err != nil {
		return err
	}
	if err := item.SetValue(ctx, "Quantity", int64(1)); err != nil {
		return err
	}
	if err := order1.AddRelated(ctx, orders.PropItems, item); err != nil {
		return err
	}

	res := demoResult{Created: item.String()}
	view := root
	if demoPark != "" {
		entry, err := e.archive.Save(ctx, demoPark, root)
		if err != nil {
			return err
		}
		res.Parked = entry.Name
	} else {
		if err := root.Commit(ctx); err != nil {
			return err
		}
		// Read back through a fresh transaction so the output reflects the store.
		if view, err = e.svc.Begin(ctx); err != nil {
			return err
		}
		defer func() { _ = view.Discard(ctx) }()
	}

	for _, id := range []domain.ObjectID{orders.Order1, orders.Order2} {
		obj, err := view.GetObject(ctx, id)
		if err != nil {
			return err
		}
		v, err := describe(ctx, e.svc.Mapping(), obj.In(view))
		if err != nil {
			return err
		}
		res.Orders = append(res.Orders, v)
	}

	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		if res.Parked != "" {
			fmt.Printf("parked hierarchy as %q\n", res.Parked)
		}
		fmt.Printf("created %s\n", res.Created)
		for _, v := range res.Orders {
			writeView(os.Stdout, v)
		}
	}
	if demoMetrics {
		return printMetrics(e)
	}
	return nil
}

// printMetrics writes the counter families gathered by the run.
func printMetrics(e *env) error {
	families, err := e.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				labels := ""
				for _, lp := range m.GetLabel() {
					labels += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
				}
				fmt.Printf("%s%s %v\n", mf.GetName(), labels, c.GetValue())
			}
		}
	}
	return nil
}
