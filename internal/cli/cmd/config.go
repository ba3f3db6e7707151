package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	coreerrors "urlport/internal/core/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeInternal, "failed to encode config")
	}
	return enc.Close()
}
