package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"heifpress/internal/decode"
	"heifpress/internal/inspect"
	"heifpress/internal/tui"
	"heifpress/pkg/imgutil"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>...",
	Short: "Report metadata carried by HEIC files without converting them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dec, err := decode.Heif().Get(context.Background())
		if err != nil {
			return err
		}

		for i, path := range args {
			if i > 0 {
				fmt.Fprintln(os.Stdout)
			}
			name := filepath.Base(path)
			fmt.Fprintf(os.Stdout, "%s\n", inspectFileStyle.Render(name))

			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stdout, "  %s %s\n", inspectBulletStyle.Render("-"), inspectDimStyle.Render(err.Error()))
				continue
			}
			if kind, sniffErr := imgutil.SniffReader(bytes.NewReader(data)); sniffErr != nil || kind != imgutil.KindHEIC {
				fmt.Fprintf(os.Stdout, "  %s %s\n", inspectBulletStyle.Render("-"), inspectDimStyle.Render("not a HEIC file"))
				continue
			}

			rawExif, err := dec.ExtractExif(data)
			if err != nil {
				rawExif = nil // carried metadata is optional
			}
			analysis, err := inspect.Analyze(rawExif)
			if err != nil {
				fmt.Fprintf(os.Stdout, "  %s %s\n", inspectBulletStyle.Render("-"), inspectDimStyle.Render(err.Error()))
				continue
			}
			if len(analysis.Details) == 0 {
				fmt.Fprintf(os.Stdout, "  %s %s\n", inspectBulletStyle.Render("-"), inspectDimStyle.Render("none"))
				continue
			}
			for _, detail := range analysis.Details {
				fmt.Fprintf(os.Stdout, "  %s\n", inspectCategoryStyle.Render(detail.Category+":"))
				for _, value := range detail.Values {
					fmt.Fprintf(os.Stdout, "    %s %s\n", inspectBulletStyle.Render("-"), inspectValueStyle.Render(value))
				}
			}
		}
		return nil
	},
}

var (
	inspectFileStyle     = lipgloss.NewStyle().Bold(true).Foreground(tui.ColorAccent)
	inspectCategoryStyle = lipgloss.NewStyle().Foreground(tui.ColorAccentAlt)
	inspectValueStyle    = lipgloss.NewStyle().Foreground(tui.ColorInk)
	inspectDimStyle      = lipgloss.NewStyle().Foreground(tui.ColorDim)
	inspectBulletStyle   = lipgloss.NewStyle().Foreground(tui.ColorDim)
)

func init() {
	rootCmd.AddCommand(inspectCmd)
}
