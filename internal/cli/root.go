// Package cli implements rvctool, the operator tool for the gateway.
package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/config"
	"github.com/KevinKickass/OpenRVCore/internal/spec"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

func Execute() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	verbose    bool
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "rvctool",
		Short:        "Decode, encode and send RV-C traffic for the OpenRVCore gateway",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "gateway config file (built-in defaults when omitted)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	cmd.AddCommand(
		decodeCmd(opts),
		encodeCmd(opts),
		catalogCmd(opts),
		hashPasswordCmd(),
		tokenCmd(),
		sendCmd(opts),
		watchCmd(),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(o.configPath)
}

func (o *rootOptions) logger() (*zap.Logger, error) {
	if !o.verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

// loadCatalog reads override when set, else the configured spec file.
func loadCatalog(cfg *config.Config, override string) (types.Catalog, error) {
	loader, err := spec.NewLoader(cfg.Spec.SearchPaths)
	if err != nil {
		return nil, err
	}
	name := cfg.Spec.File
	if override != "" {
		name = override
	}
	return loader.Load(name)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
