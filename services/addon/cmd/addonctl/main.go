package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"addonbuilder/pkg/telemetry"
	"addonbuilder/services/addon"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "addonctl",
		Short:         "Utility for requesting and inspecting addon builds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newRequestCommand())
	cmd.AddCommand(newTagsCommand())
	return cmd
}

func newRequestCommand() *cobra.Command {
	var (
		emberVersion string
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:   "request <addon> <version>",
		Short: "Resolve an addon and schedule its build if no artifact exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := addon.LoadConfig()
			if err != nil {
				return err
			}

			logOut := io.Discard
			if verbose {
				logOut = cmd.ErrOrStderr()
			}
			svc, cleanup, err := addon.NewFromConfig(ctx, cfg, telemetry.NewLogger("addonctl", logOut), prom.NewRegistry())
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := svc.Handle(ctx, addon.Event{
				Addon:        args[0],
				AddonVersion: args[1],
				EmberVersion: emberVersion,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVar(&emberVersion, "ember", "", "Ember version the addon is built for (e.g. 2.18.0)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Write pipeline logs to stderr")
	_ = cmd.MarkFlagRequired("ember")
	return cmd
}

func newTagsCommand() *cobra.Command {
	var compatFile string

	cmd := &cobra.Command{
		Use:   "tags [ember-version]",
		Short: "List builder compatibility tags, or resolve one ember version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if compatFile == "" {
				compatFile = os.Getenv("ADDON_COMPAT_FILE")
			}
			table, err := addon.LoadCompatTable(compatFile)
			if err != nil {
				return err
			}
			return printTags(cmd.OutOrStdout(), table, args)
		},
	}

	cmd.Flags().StringVar(&compatFile, "file", "", "Compatibility table YAML (defaults to ADDON_COMPAT_FILE, then the built-in table)")
	return cmd
}

func printTags(out io.Writer, table addon.CompatTable, args []string) error {
	if len(args) == 1 {
		tag, ok := table.Resolve(args[0])
		if !ok {
			return fmt.Errorf("no builder supports ember %s (tags: %v)", args[0], table.Tags())
		}
		_, err := fmt.Fprintln(out, tag)
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAG\tPATTERN")
	for _, rule := range table.Rules() {
		fmt.Fprintf(tw, "%s\t%s\n", rule.Tag, rule.Pattern)
	}
	return tw.Flush()
}
