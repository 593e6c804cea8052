// Package docparser implements the deterministic document decode
// ahead of extraction: a PDF becomes an ordered sequence of per-page
// (text block, image block) pairs; a bare image becomes a single
// image block. Nothing here calls an LLM; the extraction client takes
// over once this package hands it plain blocks.
package docparser

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/pkg/extraction"
)

// Page is one page's worth of blocks, in document order.
type Page struct {
	Text   string
	Images []extraction.ImageBlock
}

// ParsePDF decodes the PDF at path into ordered pages.
// pdfcpu owns structural decode (page count, stream decompression,
// image object extraction); the content-stream text is then pulled out
// of pdfcpu's decompressed bytes with a minimal Tj/TJ operator scan,
// since the pinned pdfcpu release has no single-call plain-text
// extraction of its own.
func ParsePDF(ctx context.Context, path string) ([]Page, error) {
	conf := model.NewDefaultConfiguration()

	count, err := api.PageCountFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInvalidInput, "read PDF page count")
	}
	if count == 0 {
		return nil, apperrors.NewInvalidInput("PDF contains no pages")
	}

	workDir, err := os.MkdirTemp("", "docparser-pdf-*")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "create scratch directory")
	}
	defer os.RemoveAll(workDir)

	if err := api.ExtractContentFile(path, workDir, nil, conf); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInvalidInput, "extract PDF content streams")
	}
	if err := api.ExtractImagesFile(path, workDir, nil, conf); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInvalidInput, "extract PDF images")
	}

	contentByPage, err := groupByPage(workDir, "Content_page_")
	if err != nil {
		return nil, err
	}
	imagesByPage, err := groupByPage(workDir, "_page_")
	if err != nil {
		return nil, err
	}

	pages := make([]Page, count)
	for i := 0; i < count; i++ {
		pageNum := i + 1
		page := Page{}
		for _, f := range contentByPage[pageNum] {
			data, rerr := os.ReadFile(f)
			if rerr != nil {
				continue
			}
			page.Text += extractContentText(data)
		}
		for _, f := range imagesByPage[pageNum] {
			// The "_page_" marker also matches the content-stream
			// files; only the image dumps belong here.
			if strings.HasPrefix(filepath.Base(f), "Content_") {
				continue
			}
			data, rerr := os.ReadFile(f)
			if rerr != nil {
				continue
			}
			page.Images = append(page.Images, extraction.ImageBlock{
				MediaType: mediaTypeForExt(filepath.Ext(f)),
				Data:      data,
			})
		}
		pages[i] = page
	}
	return pages, nil
}

// ParseImage wraps a standalone image file as a single one-page
// document with one image block and no text.
func ParseImage(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInvalidInput, "read image file")
	}
	return []Page{{
		Images: []extraction.ImageBlock{{
			MediaType: mediaTypeForExt(filepath.Ext(path)),
			Data:      data,
		}},
	}}, nil
}

// IsPDF reports whether path's extension marks it as a PDF; the
// orchestrator uses this to pick ParsePDF vs ParseImage deterministically
// from the original filename rather than sniffing content.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

var pageFileNum = regexp.MustCompile(`_page_(\d+)`)

// groupByPage buckets every file under dir whose name matches marker
// and a trailing page number, keyed by that page number.
func groupByPage(dir, marker string) (map[int][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "read scratch directory")
	}
	out := make(map[int][]string)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.Contains(e.Name(), marker) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		m := pageFileNum.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		var page int
		for _, c := range m[1] {
			page = page*10 + int(c-'0')
		}
		out[page] = append(out[page], filepath.Join(dir, name))
	}
	return out, nil
}

var (
	tjRun  = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
	tjArr  = regexp.MustCompile(`\[((?:[^\[\]]|\\.)*)\]\s*TJ`)
	tjPart = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
)

// extractContentText pulls the literal strings out of a decompressed
// PDF content stream's Tj/TJ text-showing operators. This is a
// deliberately narrow reading of the PDF content-stream grammar (it
// ignores font encoding tables and glyph-index strings), sufficient for
// the Latin-script test-report text this system ingests.
func extractContentText(content []byte) string {
	var b strings.Builder
	for _, m := range tjRun.FindAllSubmatch(content, -1) {
		b.WriteString(unescapePDFString(m[1]))
		b.WriteByte(' ')
	}
	for _, m := range tjArr.FindAllSubmatch(content, -1) {
		for _, part := range tjPart.FindAllSubmatch(m[1], -1) {
			b.WriteString(unescapePDFString(part[1]))
		}
		b.WriteByte(' ')
	}
	return b.String()
}

func unescapePDFString(s []byte) string {
	s = bytes.ReplaceAll(s, []byte(`\(`), []byte("("))
	s = bytes.ReplaceAll(s, []byte(`\)`), []byte(")"))
	s = bytes.ReplaceAll(s, []byte(`\\`), []byte(`\`))
	return string(s)
}

// MediaTypeForExt maps a file extension to the MIME type extraction
// blocks carry; exported so callers downloading auxiliary images
// outside this package (the orchestrator's OCR inputs)
// don't duplicate the table.
func MediaTypeForExt(ext string) string {
	return mediaTypeForExt(ext)
}

func mediaTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
