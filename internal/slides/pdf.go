package slides

import (
	"context"
	"image"
	_ "image/png" // slide folders may contain PNG images
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"

	apperrors "github.com/binh234/video2slides/internal/errors"
	"github.com/binh234/video2slides/internal/trace"
)

// DefaultPDFPath returns <dir>/<basename(dir)>.pdf.
func DefaultPDFPath(dir string) string {
	return filepath.Join(dir, filepath.Base(filepath.Clean(dir))+".pdf")
}

// BuildPDF writes every image in dir, in name order, as one page sized to the
// image. An empty outPath selects DefaultPDFPath. The path written is
// returned.
func BuildPDF(ctx context.Context, dir, outPath string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "pdf")
	defer span.End()
	log := trace.Logger(ctx)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", apperrors.Newf(apperrors.CodeNotFound, "image directory %s does not exist", dir)
	}
	if outPath == "" {
		outPath = DefaultPDFPath(dir)
	}

	images, err := ListImages(dir)
	if err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "", apperrors.Newf(apperrors.CodePDFFailed, "no images in %s", dir)
	}
	span.SetAttr("pages", len(images))
	log.Info("converting slides to pdf", "pages", len(images), "output", outPath)

	pdf := fpdf.NewCustom(&fpdf.InitType{UnitStr: "pt"})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)

	for _, p := range images {
		if err := ctx.Err(); err != nil {
			return "", apperrors.Wrap(err, apperrors.CodeCancelled, "pdf cancelled")
		}
		w, h, err := imageSize(p)
		if err != nil {
			return "", err
		}
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
		opts := fpdf.ImageOptions{ImageType: imageType(p)}
		pdf.ImageOptions(p, 0, 0, w, h, false, opts, 0, "")
		if pdf.Err() {
			return "", apperrors.Wrapf(pdf.Error(), apperrors.CodePDFFailed, "add page %s", filepath.Base(p))
		}
	}

	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodePDFFailed, "write %s", outPath)
	}
	log.Info("pdf created", "path", outPath)
	return outPath, nil
}

func imageSize(path string) (float64, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, apperrors.Wrapf(err, apperrors.CodePDFFailed, "open %s", path)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, apperrors.Wrapf(err, apperrors.CodePDFFailed, "decode %s", path)
	}
	return float64(cfg.Width), float64(cfg.Height), nil
}

func imageType(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return "PNG"
	}
	return "JPG"
}
