package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/cellx/core"
	"pkt.systems/cellx/internal/appconfig"
	"pkt.systems/cellx/internal/execindex"
	"pkt.systems/cellx/internal/persist"
	"pkt.systems/cellx/internal/suggest"
	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

func newClassifyCmd() *cobra.Command {
	var cfgPath string
	var dir string
	cmd := &cobra.Command{
		Use:   "classify <command line>",
		Short: "Show how a command line would be dispatched",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			index := execindex.New(cfg.Index.Path)
			if err := index.Refresh(cmd.Context()); err != nil {
				return err
			}
			props := schema.CellProps{Input: strings.Join(args, " "), CurrentDir: dir}
			if props.CurrentDir == "" {
				props.CurrentDir, _ = os.Getwd()
			}
			if props.Token() == "" {
				return schema.ErrEmptyCommand
			}
			classified := core.ClassifyProps(props, index)
			out := cmd.OutOrStdout()
			switch kind := classified.Kind.(type) {
			case core.PathKind:
				fmt.Fprintf(out, "%s\t%s\n", kind, core.ResolvePath(kind.Path, props.CurrentDir))
			case core.ExternalKind:
				location, _ := index.Lookup(kind.Name)
				fmt.Fprintf(out, "%s\t%s\n", kind, location)
			default:
				fmt.Fprintf(out, "%s\t%s\n", kind, props.Token())
			}
			if len(classified.Args) > 0 {
				fmt.Fprintf(out, "args\t%s\n", strings.Join(classified.Args, " "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&dir, "dir", "C", "", "working directory (default: current directory)")
	return cmd
}

func newIndexCmd() *cobra.Command {
	var cfgPath string
	var count bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "List the executables found on the search path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			index := execindex.New(cfg.Index.Path)
			started := time.Now()
			if err := index.Refresh(cmd.Context()); err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Debug("exec index scanned", "dirs", len(index.Dirs()), "elapsed", time.Since(started))
			out := cmd.OutOrStdout()
			if count {
				_, err := fmt.Fprintln(out, index.Len())
				return err
			}
			for _, name := range index.Names() {
				location, _ := index.Lookup(name)
				fmt.Fprintf(out, "%s\t%s\n", name, location)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&count, "count", false, "print only the number of executables")
	return cmd
}

func newSuggestCmd() *cobra.Command {
	var cfgPath string
	var dir string
	var limit int
	var shellHistory string
	cmd := &cobra.Command{
		Use:   "suggest <partial command line>",
		Short: "Rank completions for a partial command line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			index := execindex.New(cfg.Index.Path)
			if err := index.Refresh(ctx); err != nil {
				return err
			}
			var history suggest.HistorySource
			if !cfg.Logging.DisableHistory && fileExists(cfg.History.DBPath) {
				store, err := persist.OpenWithLogger(cfg.History.DBPath, pslog.Ctx(ctx))
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()
				history = store
			}
			if !cmd.Flags().Changed("shell-history") {
				shellHistory = suggest.DefaultShellHistoryPath()
			}
			engine := suggest.New(suggest.Config{
				ShellHistoryPath: shellHistory,
				Internal:         core.InternalActions(),
			}, history, index)
			req := schema.SuggestRequest{CurrentDir: dir, Limit: limit}
			if len(args) > 0 {
				req.Input = args[0]
			}
			if req.CurrentDir == "" {
				req.CurrentDir, _ = os.Getwd()
			}
			items, err := engine.Suggest(ctx, req)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, item := range items {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", item.Score, item.Source, item.Text)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&dir, "dir", "C", "", "working directory (default: current directory)")
	cmd.Flags().IntVarP(&limit, "limit", "n", suggest.DefaultLimit, "maximum suggestions")
	cmd.Flags().StringVar(&shellHistory, "shell-history", "", "shell history file (default: ~/.bash_history)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var cfgPath string
	var limit int
	var output string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded cells",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if !fileExists(cfg.History.DBPath) {
				return fmt.Errorf("no history at %s", cfg.History.DBPath)
			}
			store, err := persist.OpenWithLogger(cfg.History.DBPath, pslog.Ctx(ctx))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			out := cmd.OutOrStdout()
			if output != "" {
				msgs, err := store.Output(ctx, schema.CellID(output))
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					return fmt.Errorf("%w: %s", schema.ErrCellNotFound, output)
				}
				for _, msg := range msgs {
					w := out
					if msg.Stream == schema.StreamStderr {
						w = cmd.ErrOrStderr()
					}
					_, _ = w.Write(msg.Data)
				}
				return nil
			}

			entries, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, entry := range entries {
				started := time.UnixMilli(entry.StartedAt).Format(time.DateTime)
				status := string(entry.State)
				if entry.State == schema.CellCompleted {
					status = fmt.Sprintf("exit %d", entry.ExitCode)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", started, entry.ID, status, entry.Input)
			}
			return tw.Flush()
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of cells to list")
	cmd.Flags().StringVar(&output, "output", "", "print the recorded output of a cell id")
	cmd.AddCommand(newHistoryPruneCmd(&cfgPath))
	return cmd
}

func newHistoryPruneCmd(cfgPath *string) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete recorded cells older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := appconfig.Load(*cfgPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.History.Retention()
			}
			if olderThan <= 0 {
				return fmt.Errorf("no retention: pass --older-than or set history.retention_days")
			}
			if !fileExists(cfg.History.DBPath) {
				return fmt.Errorf("no history at %s", cfg.History.DBPath)
			}
			store, err := persist.OpenWithLogger(cfg.History.DBPath, pslog.Ctx(ctx))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			n, err := store.Prune(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d cells\n", n)
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff, e.g. 720h (default: history.retention_days)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the cellx config file",
	}
	var path string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := appconfig.WriteDefault(path, force)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", written)
			return err
		},
	}
	initCmd.Flags().StringVarP(&path, "config", "c", "", "config path (default: ~/.cellx/config.yaml)")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
