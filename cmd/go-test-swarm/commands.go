package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/config"
	"github.com/randomizedcoder/go-test-swarm/internal/history"
	"github.com/randomizedcoder/go-test-swarm/internal/report"
)

func newListCmd() *cobra.Command {
	var (
		tags   []string
		format string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the registered tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			selected := make([]catalog.Tag, 0, len(tags))
			for _, t := range tags {
				selected = append(selected, catalog.ParseTag(t))
			}
			return writeDescriptors(cmd.OutOrStdout(), format, catalog.Default.Select(selected...))
		},
	}
	cmd.Flags().StringSliceVar(&tags, config.FlagTag, nil, `Only list tests with these tags ("smoke", "regression")`)
	cmd.Flags().StringVar(&format, "format", "table", `Output format: "table", "json" or "yaml"`)
	return cmd
}

func writeDescriptors(w io.Writer, format string, descs []catalog.Descriptor) error {
	switch strings.ToLower(format) {
	case "table":
		_, err := io.WriteString(w, report.CatalogTable(descs))
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(descs); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func newSessionsCmd() *cobra.Command {
	var logDir string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List previous sessions and their logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := history.List(logDir)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No sessions in %s\n", logDir)
				return nil
			}
			_, err = io.WriteString(cmd.OutOrStdout(), report.SessionsTable(sessions))
			return err
		},
	}
	cmd.PersistentFlags().StringVar(&logDir, config.FlagLogDir, config.DefaultConfig().LogDir, "Directory holding session logs")

	show := &cobra.Command{
		Use:   "show [SESSION|latest] [TEST]",
		Short: "List a session's test logs, or print one test's log",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 0 {
				name = args[0]
			}
			s, err := history.Find(logDir, name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) < 2 {
				fmt.Fprintf(out, "%s (%s)\n", s.Name, s.Dir)
				for _, test := range s.Logs {
					fmt.Fprintf(out, "  %s\n", test)
				}
				return nil
			}

			lines, err := history.ReadLog(s, args[1])
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.AddCommand(show)
	return cmd
}
