package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/regionpulse/internal/scan"
)

const cliTrigger = "cli"

// newScanCmd creates the 'scan' subcommand. It runs one scan in the
// foreground and prints the summary as JSON.
func newScanCmd() *cobra.Command {
	var regions []string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Runs one scan and prints its summary",
		Long: `Runs a full scan synchronously, bypassing the queue, and writes the scan
summary to stdout as JSON. Without --region every configured region is scanned.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.RunScan(cmd.Context(), scan.Request{
				Regions: regions,
				Trigger: cliTrigger,
			})
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&regions, "region", "r", nil, "region to scan (repeatable; default all)")
	return cmd
}

func newRegionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "Lists the configured regions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCOUNTRY\tCITY\tLANGUAGE")
			for _, r := range appInstance.Regions() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Country, r.City, r.Language)
			}
			return w.Flush()
		},
	}
}
