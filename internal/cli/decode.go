package cli

import (
	"github.com/spf13/cobra"

	"github.com/KevinKickass/OpenRVCore/internal/decoder"
)

func decodeCmd(opts *rootOptions) *cobra.Command {
	var specFile string
	var parameterized bool

	c := &cobra.Command{
		Use:   "decode <dgn> [hex]",
		Short: "Decode one frame payload against the catalog",
		Example: `  rvctool decode 1FEDA "01 FF C8 FC FF 05 00 FF"
  rvctool decode 0x1FFB7 0005 --spec ./specs/rvc-spec.yml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg, specFile)
			if err != nil {
				return err
			}

			dgn, err := decoder.ParseDGN(args[0])
			if err != nil {
				return err
			}
			var data string
			if len(args) == 2 {
				if data, err = decoder.ParseDataHex(args[1]); err != nil {
					return err
				}
			}

			dec := decoder.New(catalog, decoder.Options{
				ParameterizedNames: parameterized || cfg.Decoder.ParameterizedNames,
			})
			return printJSON(cmd.OutOrStdout(), dec.Decode(dgn, data))
		},
	}

	c.Flags().StringVar(&specFile, "spec", "", "catalog file (default: spec.file from config)")
	c.Flags().BoolVar(&parameterized, "parameterized", false, "use parameterized field names")
	return c
}
