package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"heifpress/internal/batch"
	"heifpress/internal/config"
	"heifpress/internal/decode"
	"heifpress/internal/pdfdoc"
	"heifpress/internal/transform"
	"heifpress/internal/tui"
)

var (
	noticeStyle  = lipgloss.NewStyle().Foreground(tui.ColorWarn)
	failedStyle  = lipgloss.NewStyle().Foreground(tui.ColorFail)
	writtenStyle = lipgloss.NewStyle().Foreground(tui.ColorSuccess)
)

var (
	convertOut    string
	convertKind   string
	convertAssign []string
	convertMerge  bool
	convertWidth  int
	convertHeight int
	convertFit    string
	convertPage   string
	convertKeep   bool
	convertGroup  int
	convertNoTUI  bool
)

var convertCmd = &cobra.Command{
	Use:   "convert [flags] <file>...",
	Short: "Convert HEIC images to JPEG files or PDF documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		applyConvertDefaults(cmd, cfg)

		defaultKind, ok := batch.ParseKind(convertKind)
		if !ok {
			return fmt.Errorf("unknown output kind %q (expected jpeg or pdf)", convertKind)
		}

		b := batch.New(batch.Config{
			DefaultKind: defaultKind,
			PageSize:    pdfdoc.ParsePageSize(convertPage),
			GroupSize:   convertGroup,
			Transform: transform.Config{
				Width:        convertWidth,
				Height:       convertHeight,
				Fit:          transform.ParseFit(convertFit),
				KeepMetadata: convertKeep,
			},
		})

		maxBytes := cfg.MaxFileBytes()
		for _, path := range args {
			name := filepath.Base(path)
			info, err := os.Stat(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "skipping %s: %v\n", name, err)
				continue
			}
			if err := batch.ValidateSource(name, info.Size(), maxBytes); err != nil {
				fmt.Fprintf(os.Stderr, "skipping %v\n", err)
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "skipping %s: %v\n", name, err)
				continue
			}
			b.Add(name, data)
		}
		if b.Len() == 0 {
			return fmt.Errorf("no convertible files")
		}

		for _, assign := range convertAssign {
			name, kindName, found := strings.Cut(assign, "=")
			if !found {
				return fmt.Errorf("bad --assign %q (expected name=jpeg|pdf)", assign)
			}
			kind, ok := batch.ParseKind(kindName)
			if !ok {
				return fmt.Errorf("bad --assign %q: unknown kind %q", assign, kindName)
			}
			if !b.AssignByName(name, kind) {
				fmt.Fprintf(os.Stderr, "--assign %s: no such file in batch\n", name)
			}
		}

		if convertMerge {
			b.SetMode(batch.ModeMerged)
			if !b.MergedSelectable() {
				fmt.Fprintln(os.Stderr, "note: fewer than two PDF-assigned files; merge has nothing to combine")
			}
		}

		sink, err := batch.NewDirSink(convertOut)
		if err != nil {
			return err
		}

		deps := batch.Deps{
			Decoder: decode.Heif(),
			Docs:    pdfdoc.Fpdf(),
			Sink:    sink,
		}

		var summary batch.Summary
		if convertNoTUI {
			summary, err = b.Run(context.Background(), deps)
		} else {
			updates := make(chan batch.ProgressUpdate, 64)
			deps.Updates = updates

			model := tui.NewModel(updates)
			program := tea.NewProgram(model)
			uiDone := make(chan struct{})
			go func() {
				_, _ = program.Run()
				close(uiDone)
			}()

			summary, err = b.Run(context.Background(), deps)
			close(updates)
			<-uiDone
		}
		if err != nil {
			return err
		}

		rows := []tui.SummaryRow{
			{Label: "Files converted", Value: fmt.Sprintf("%d/%d", summary.Done, summary.Total)},
			{Label: "JPEG files written", Value: fmt.Sprintf("%d", summary.Rasters)},
			{Label: "PDF documents written", Value: fmt.Sprintf("%d", summary.Docs)},
		}
		fmt.Fprintln(os.Stdout, tui.RenderSummary(rows))
		for _, notice := range summary.Notices {
			fmt.Fprintln(os.Stdout, noticeStyle.Render("note: "+notice))
		}
		for _, view := range b.Snapshot() {
			if view.State == batch.StateFailed {
				fmt.Fprintln(os.Stdout, failedStyle.Render(fmt.Sprintf("failed: %s: %s", view.Name, view.Err)))
			}
		}

		outPath := convertOut
		if abs, absErr := filepath.Abs(convertOut); absErr == nil {
			outPath = abs
		}
		fmt.Fprintln(os.Stdout, writtenStyle.Render("Outputs written to: "+outPath))
		return nil
	},
}

// applyConvertDefaults fills flag values from the config file for flags
// the user did not set on the command line.
func applyConvertDefaults(cmd *cobra.Command, cfg *config.Config) {
	if !cmd.Flags().Changed("out") {
		convertOut = cfg.Output.Dir
	}
	if !cmd.Flags().Changed("kind") {
		convertKind = cfg.Output.Kind
	}
	if !cmd.Flags().Changed("merge") {
		convertMerge = cfg.Document.Mode == "merged"
	}
	if !cmd.Flags().Changed("page") {
		convertPage = cfg.Document.PageSize
	}
	if !cmd.Flags().Changed("width") {
		convertWidth = cfg.Transform.Width
	}
	if !cmd.Flags().Changed("height") {
		convertHeight = cfg.Transform.Height
	}
	if !cmd.Flags().Changed("fit") {
		convertFit = cfg.Transform.Fit
	}
	if !cmd.Flags().Changed("keep-metadata") {
		convertKeep = cfg.Transform.KeepMetadata
	}
	if !cmd.Flags().Changed("group-size") {
		convertGroup = cfg.GroupSize
	}
}

func init() {
	convertCmd.Flags().StringVarP(&convertOut, "out", "o", "converted", "destination folder for outputs")
	convertCmd.Flags().StringVarP(&convertKind, "kind", "k", "pdf", "default output kind: jpeg or pdf")
	convertCmd.Flags().StringArrayVar(&convertAssign, "assign", nil, "per-file output override, name=jpeg|pdf (repeatable)")
	convertCmd.Flags().BoolVar(&convertMerge, "merge", false, "combine all PDF-assigned files into one document")
	convertCmd.Flags().IntVar(&convertWidth, "width", 0, "target width in pixels (0 keeps source)")
	convertCmd.Flags().IntVar(&convertHeight, "height", 0, "target height in pixels (0 keeps source)")
	convertCmd.Flags().StringVar(&convertFit, "fit", "bounded", "fit policy: bounded, crop, or stretch")
	convertCmd.Flags().StringVar(&convertPage, "page", "native", "PDF page size: native, a4, or letter")
	convertCmd.Flags().BoolVar(&convertKeep, "keep-metadata", false, "carry source EXIF into JPEG outputs")
	convertCmd.Flags().IntVar(&convertGroup, "group-size", batch.DefaultGroupSize, "items converted concurrently per group")
	convertCmd.Flags().BoolVar(&convertNoTUI, "no-tui", false, "disable the live progress display")

	rootCmd.AddCommand(convertCmd)
}
