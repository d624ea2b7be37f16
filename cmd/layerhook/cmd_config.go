package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/layerhook/internal/errx"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved layer configuration as YAML",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return errx.Wrap(ErrEncodeConfig, err)
	}
	return enc.Close()
}
