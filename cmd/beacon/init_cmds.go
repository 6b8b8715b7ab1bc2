package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	initHost string
	initPort int
)

var initCmd = &cobra.Command{
	Use:   "init [config_file]",
	Short: "Write a starter configuration",
	Args:  cobra.MaximumNArgs(1),
	Run:   runInit,
}

func init() {
	initCmd.Flags().StringVar(&initHost, "host", "127.0.0.1", "bind address")
	initCmd.Flags().IntVar(&initPort, "port", 9400, "bind port")
}

const configTemplate = `{
  "host": "%s",
  "port": %d,
  "hotReload": true,
  "loggers": [
    {"stdout": true, "level": "info"}
  ],
  "plugins": {
    "dir": "plugins",
    "watch": false
  },
  "session": {
    "backend": "redis",
    "addr": "localhost:6379"
  },
  "metrics": {
    "enabled": false,
    "addr": "127.0.0.1:9401"
  }
}
`

func runInit(cmd *cobra.Command, args []string) {
	configFile := "config.json"
	if len(args) > 0 {
		configFile = args[0]
	}

	if _, err := os.Stat(configFile); err == nil {
		fmt.Fprintf(os.Stderr, "Error: %s already exists\n", configFile)
		os.Exit(1)
	}

	content := fmt.Sprintf(configTemplate, initHost, initPort)
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config file %s: %v\n", configFile, err)
		os.Exit(1)
	}
	fmt.Printf("Configuration file created: %s\n", configFile)

	if err := os.MkdirAll("plugins", 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating plugins directory: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Created directory: plugins")
	fmt.Println("Initialization complete.")
}
