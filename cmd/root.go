package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "heifpress",
	Short: "heifpress - batch HEIC to JPEG/PDF conversion",
	Long:  "heifpress converts HEIC images to JPEG files or PDF documents in bounded-concurrency batches, entirely on the local machine.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
}
