package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"bloodtest/analyser-app/core"
	"github.com/ledongthuc/pdf"
)

const DefaultMaxDocumentBytes int64 = 20 << 20

var errEmptyPath = errors.New("file_path is empty")

// ReadBloodReportInput represents the input parameters for the read_blood_report tool.
type ReadBloodReportInput struct {
	// FilePath is the location of the uploaded report on local disk.
	FilePath string `json:"file_path" jsonschema_description:"Path of the PDF or text file containing the blood test report" jsonschema:"required"`
}

// DocumentReader extracts the text of an uploaded report.
type DocumentReader struct {
	MaxBytes int64
}

// Read returns the full text of the report at input.FilePath. Pages are kept
// in order; blank-line runs inside a page collapse to a single newline and
// every page ends with a newline.
func (r DocumentReader) Read(ctx context.Context, input ReadBloodReportInput) (string, error) {
	path := strings.TrimSpace(input.FilePath)
	if path == "" {
		return "", core.NewToolError(core.ToolNotFound, errEmptyPath)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", core.NewToolError(core.ToolNotFound, fmt.Errorf("no file at %s", path))
		}
		return "", core.NewToolError(core.ToolExtractionError, err)
	}
	if info.IsDir() {
		return "", core.NewToolError(core.ToolNotFound, fmt.Errorf("%s is a directory", path))
	}
	limit := r.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxDocumentBytes
	}
	if info.Size() > limit {
		return "", core.NewToolError(core.ToolExtractionError, fmt.Errorf("%s is %d bytes, the limit is %d", path, info.Size(), limit))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", core.NewToolError(core.ToolExtractionError, err)
	}
	if err := ctx.Err(); err != nil {
		return "", core.NewToolError(core.ToolExtractionError, err)
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	mimeType := DetectMIME(path, head)

	var pages []string
	switch {
	case strings.EqualFold(mimeType, "application/pdf"):
		pages, err = extractPDF(data)
	case strings.HasPrefix(mimeType, "text/"):
		pages = []string{strings.ReplaceAll(string(data), "\r\n", "\n")}
	default:
		err = fmt.Errorf("unsupported document type %s", mimeType)
	}
	if err != nil {
		return "", core.NewToolError(core.ToolExtractionError, fmt.Errorf("%s: %w", path, err))
	}

	var report strings.Builder
	for _, page := range pages {
		report.WriteString(collapseBlankLines(page))
		report.WriteString("\n")
	}
	return report.String(), nil
}

// extractPDF returns the plain text of every page. The parser panics on some
// malformed files, so panics come back as errors.
func extractPDF(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	n := rdr.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		pg := rdr.Page(i)
		if pg.V.IsNull() {
			continue
		}
		txt, err := pg.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, txt)
	}
	return pages, nil
}

var blankLines = regexp.MustCompile(`\n{2,}`)

func collapseBlankLines(s string) string {
	return blankLines.ReplaceAllString(s, "\n")
}

// DetectMIME sniffs the content type from the first bytes, then the
// extension, then falls back to text when the bytes decode as UTF-8.
func DetectMIME(name string, head []byte) string {
	if m := http.DetectContentType(head); m != "application/octet-stream" {
		return m
	}
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
	}
	if isLikelyUTF8(head) {
		return "text/plain"
	}
	return "application/octet-stream"
}

func isLikelyUTF8(head []byte) bool {
	if !utf8.Valid(head) {
		return false
	}
	for _, c := range string(head) {
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' && c != '\f' {
			return false
		}
	}
	return true
}
