package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/gvmtools/checkgvm/internal/cli"
	"github.com/gvmtools/checkgvm/internal/nagios"
)

func main() {
	err := cli.Execute()
	if err == nil {
		os.Exit(int(nagios.StatusOK))
	}

	var exit *nagios.ExitError
	if errors.As(err, &exit) {
		if exit.Message != "" {
			fmt.Println(exit.Message)
		}
		os.Exit(int(exit.Status))
	}

	// Anything else is a usage or environment problem the monitoring
	// server should treat as UNKNOWN.
	fmt.Printf("GVM UNKNOWN: %v\n", err)
	os.Exit(int(nagios.StatusUnknown))
}
