package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func catalogCmd(opts *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect RV-C catalog files",
	}
	c.AddCommand(catalogValidateCmd(opts), catalogListCmd(opts))
	return c
}

func catalogValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a catalog file against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d messages\n", len(catalog))
			return nil
		},
	}
}

func catalogListCmd(opts *rootOptions) *cobra.Command {
	var specFile string

	c := &cobra.Command{
		Use:   "list",
		Short: "List the messages of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg, specFile)
			if err != nil {
				return err
			}

			dgns := make([]string, 0, len(catalog))
			for dgn := range catalog {
				dgns = append(dgns, dgn)
			}
			sort.Strings(dgns)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DGN\tNAME\tPARAMETERS")
			for _, dgn := range dgns {
				msg := catalog[dgn]
				fmt.Fprintf(w, "%s\t%s\t%d\n", dgn, msg.Name, len(catalog.Parameters(msg)))
			}
			return w.Flush()
		},
	}

	c.Flags().StringVar(&specFile, "spec", "", "catalog file (default: spec.file from config)")
	return c
}
