package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"pkt.systems/cellx/internal/version"
)

func newVersionCmd() *cobra.Command {
	var deps bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Read()
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "%s %s (%s)\n", info.Module, info.Version, info.GoVersion); err != nil {
				return err
			}
			if !deps {
				return nil
			}
			paths := make([]string, 0, len(info.Deps))
			for path := range info.Deps {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			for _, path := range paths {
				fmt.Fprintf(out, "  %s %s\n", path, info.Deps[path])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&deps, "deps", false, "also list module dependencies")
	return cmd
}
