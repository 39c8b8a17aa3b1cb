// configtest prints the configuration a discoverctl config file resolves to,
// after includes, environment overrides and validation.
package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/luxzg/discoverctl/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <config-file> [-debug]\n", os.Args[0])
		os.Exit(1)
	}

	runtime := config.New().WithConfigPath(os.Args[1])
	debug := len(os.Args) > 2 && os.Args[2] == "-debug"

	loaded, err := runtime.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if debug {
		fmt.Fprintf(os.Stderr, "config:   %s\n", loaded.ConfigPath)
		fmt.Fprintf(os.Stderr, "database: %s\n", loaded.DatabasePath())
		fmt.Fprintf(os.Stderr, "log:      %s\n", loaded.LogPath())
		fmt.Fprintf(os.Stderr, "poll:     %s\n", loaded.PollInterval())
		fmt.Fprintf(os.Stderr, "timeout:  %s\n", loaded.Timeout())
	}

	output, err := yaml.Marshal(loaded.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling config to YAML: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(output))
}
