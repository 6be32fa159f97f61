package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "flyoverhead",
		Short: "Real-time aircraft telemetry ingestion and webhook fan-out",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(ingestWorkerCmd())
	root.AddCommand(dispatchWorkerCmd())
	root.AddCommand(adaptersCmd())

	return root
}
