package textextract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"
)

var ErrUnsupportedType = errors.New("unsupported document type")

var extensions = []string{".pdf", ".docx", ".html", ".htm", ".txt", ".md"}

// Extensions lists the file extensions ExtractText understands.
func Extensions() []string {
	out := make([]string, len(extensions))
	copy(out, extensions)
	return out
}

// Supported reports whether filename has an extension ExtractText understands.
func Supported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ExtractText reads the entire content of r and extracts plain text, choosing
// the decoder by the extension of filename. Returns empty string and nil error
// if the document has no extractable text.
func ExtractText(filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !Supported(filename) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read document failed: %w", err)
	}
	if len(b) == 0 {
		return "", nil
	}

	var text string
	switch ext {
	case ".pdf":
		text, err = extractPDF(b)
	case ".docx":
		text, _, err = docconv.ConvertDocx(bytes.NewReader(b))
	case ".html", ".htm":
		text, _, err = docconv.ConvertHTML(bytes.NewReader(b), false)
	default:
		if !utf8.Valid(b) {
			return "", fmt.Errorf("%s is not valid UTF-8 text", filepath.Base(filename))
		}
		text = string(b)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s failed: %w", ext, err)
	}
	return text, nil
}

// ExtractFile opens path and extracts its text.
func ExtractFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open document failed: %w", err)
	}
	defer f.Close()
	return ExtractText(path, f)
}

func extractPDF(b []byte) (string, error) {
	pdfReader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", err
	}
	plainReader, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
