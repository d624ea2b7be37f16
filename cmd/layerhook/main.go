package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/layerhook/internal/errx"
	"github.com/jingkaihe/layerhook/pkg/api"
	"github.com/jingkaihe/layerhook/pkg/config"
)

var (
	v       = config.New()
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:           "layerhook",
	Short:         "Inspect how the interception layer treats a process's syscalls",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Layer config file (YAML, JSON or TOML)")
	flags.String("fs-mode", "", "File mode: local, read or write")
	flags.String("incoming-mode", "", "Incoming mode: off, mirror or steal")
	flags.Bool("targetless", false, "Run without a remote target")
	flags.String("log-level", "", "Log level")
	flags.String("log-file", "", "Log file (default: a new file in the temp dir)")
	flags.String("events", "", "Append hook events to this JSON-L file")
	flags.String("events-db", "", "Record hook events in this SQLite database")

	v.BindPFlag("fs.mode", flags.Lookup("fs-mode"))
	v.BindPFlag("network.incoming.mode", flags.Lookup("incoming-mode"))
	v.BindPFlag("targetless", flags.Lookup("targetless"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("log.destination", flags.Lookup("log-file"))
	v.BindPFlag("log.events_path", flags.Lookup("events"))
	v.BindPFlag("log.events_db", flags.Lookup("events-db"))
}

func loadConfig() (*api.LayerConfig, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, errx.Wrap(ErrLoadConfig, err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
