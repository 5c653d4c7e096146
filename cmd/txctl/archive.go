package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"txcore/internal/core"
)

func init() {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect and resume parked transaction hierarchies",
	}
	cmd.AddCommand(newArchiveListCmd(), newArchiveShowCmd(), newArchiveCommitCmd())
	rootCmd.AddCommand(cmd)
}

func newArchiveListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, runArchiveList)
		},
	}
}

type archiveEntry struct {
	Name    string `json:"name"`
	Levels  int    `json:"levels"`
	Root    string `json:"root"`
	Size    int64  `json:"size"`
	Updated string `json:"updated,omitempty"`
}

func runArchiveList(ctx context.Context, e *env) error {
	entries, err := e.archive.List(ctx)
	if err != nil {
		return err
	}
	out := make([]archiveEntry, 0, len(entries))
	for _, en := range entries {
		row := archiveEntry{Name: en.Name, Levels: en.Levels, Root: en.Root, Size: en.Info.Size}
		if !en.Info.LastModified.IsZero() {
			row.Updated = en.Info.LastModified.UTC().Format(time.RFC3339)
		}
		out = append(out, row)
	}
	if jsonOut {
		return printJSON(out)
	}
	if len(out) == 0 {
		fmt.Println("no snapshots")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tLEVELS\tSIZE\tROOT")
	for _, row := range out {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", row.Name, row.Levels, row.Size, row.Root)
	}
	return w.Flush()
}

func newArchiveShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Summarise one snapshot level by level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				return runArchiveShow(ctx, e, args[0])
			})
		},
	}
}

type levelSummary struct {
	ID        string   `json:"id"`
	Objects   []string `json:"objects"`
	New       int      `json:"new"`
	Deleted   int      `json:"deleted"`
	Touched   int      `json:"touched"`
	EndPoints int      `json:"endpoints"`
}

func runArchiveShow(ctx context.Context, e *env, name string) error {
	flat, err := e.archive.Read(ctx, name)
	if err != nil {
		return err
	}
	levels := make([]levelSummary, 0, len(flat.Levels))
	for _, lvl := range flat.Levels {
		s := levelSummary{ID: lvl.ID, Objects: lvl.Order, EndPoints: len(lvl.EndPoints)}
		for _, c := range lvl.Containers {
			if c.New {
				s.New++
			}
			if c.Deleted {
				s.Deleted++
			}
			for _, p := range c.Properties {
				if p.Touched {
					s.Touched++
					break
				}
			}
		}
		levels = append(levels, s)
	}
	if jsonOut {
		return printJSON(struct {
			Name   string         `json:"name"`
			Format int            `json:"format"`
			Levels []levelSummary `json:"levels"`
		}{name, flat.Format, levels})
	}
	fmt.Printf("%s (format %d, %d levels)\n", name, flat.Format, len(levels))
	for depth, s := range levels {
		fmt.Printf("  [%d] %s: %d objects, %d new, %d deleted, %d touched, %d endpoints\n",
			depth, s.ID, len(s.Objects), s.New, s.Deleted, s.Touched, s.EndPoints)
	}
	return nil
}

func newArchiveCommitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <name>",
		Short: "Restore a snapshot, commit every level and remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				return runArchiveCommit(ctx, e, args[0])
			})
		},
	}
}

func runArchiveCommit(ctx context.Context, e *env, name string) error {
	root, err := e.archive.Load(ctx, name, e.store,
		core.WithMapping(e.svc.Mapping()),
		core.WithValidator(e.svc.RulesEngine()),
		core.WithLogger(e.log),
	)
	if err != nil {
		return err
	}
	defer func() { _ = root.Discard(ctx) }()

	for leaf := root.ActiveLeaf(); leaf != root; leaf = root.ActiveLeaf() {
		if err := leaf.Commit(ctx); err != nil {
			return fmt.Errorf("commit level %s: %w", leaf.ID(), err)
		}
		if err := leaf.Discard(ctx); err != nil {
			return err
		}
	}
	if err := root.Commit(ctx); err != nil {
		return fmt.Errorf("commit root %s: %w", root.ID(), err)
	}
	if _, err := e.archive.Delete(ctx, name); err != nil {
		return err
	}
	e.log.Info("archived hierarchy committed", "name", name, "root", root.ID())
	if jsonOut {
		return printJSON(map[string]string{"committed": name, "root": root.ID()})
	}
	fmt.Printf("committed %s\n", name)
	return nil
}
