package cmd

import (
	"github.com/spf13/cobra"

	"urlport/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	// 版本信息不依赖配置
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run:               runVersion,
}

func runVersion(cmd *cobra.Command, args []string) {
	out := newOutput(cmd)
	out.KeyValue("Version", version.GetVersion())
	out.KeyValue("Platform", version.Platform())
}
