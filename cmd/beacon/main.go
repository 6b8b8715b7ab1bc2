package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	configPath := os.Getenv("BEACON_CONFIG")
	if configPath == "" {
		configPath = "config.json"
	}

	var rootCmd = &cobra.Command{
		Use:     "beacon",
		Short:   "Beacon command server",
		Version: "0.1.0",
		Run:     startServer,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", configPath, "config file")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
