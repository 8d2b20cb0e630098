package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dEdit/cmd/bench"
	"github.com/ValentinKolb/dEdit/cmd/serve"
	"github.com/ValentinKolb/dEdit/cmd/session"
	"github.com/ValentinKolb/dEdit/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dedit",
		Short: "edit lock coordination for shared documents",
		Long: fmt.Sprintf(`dEdit (v%s)

A coordination service that grants one editor at a time the right to
change a shared document, with negotiated hand-over (steal requests),
a bounded flush window and an opt-in collaborative mode.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dEdit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dEdit v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(session.SessionCmd)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "ws", util.WrapString("transport to use (ws, tcp, unix)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("log level (debug, info, warning, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
