package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/binh234/video2slides/internal/slides"
)

func newPDFCmd() *cobra.Command {
	var folder, outPath string

	cmd := &cobra.Command{
		Use:   "pdf",
		Short: "Bundle a folder of slide images into a PDF",
		Long:  "Bundle every image in a folder, sorted by name, into a PDF with one page per image.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := slides.BuildPDF(cmd.Context(), folder, outPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PDF saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "f", "", "folder containing the slide images (required)")
	cmd.Flags().StringVarP(&outPath, "out-path", "o", "", "output PDF path (default <folder>/<folder name>.pdf)")
	_ = cmd.MarkFlagRequired("folder")
	return cmd
}
