// Package extract is the "extract" reference StepHandler: it detects a
// file's format by extension and produces a plain-text GeneratedFile from
// it, dispatching to a dedicated parser per format and writing the result
// into a pipeline.GeneratedFile.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format names a supported input format.
type Format string

const (
	FormatTXT  Format = "txt"
	FormatMD   Format = "md"
	FormatHTML Format = "html"
	FormatDocx Format = "docx"
	FormatODT  Format = "odt"
	FormatPDF  Format = "pdf"
)

// Detect maps a file name's extension to a Format. An unrecognized
// extension is reported via an error the caller maps to FatalError.
func Detect(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".text":
		return FormatTXT, nil
	case ".md", ".markdown":
		return FormatMD, nil
	case ".html", ".htm":
		return FormatHTML, nil
	case ".docx":
		return FormatDocx, nil
	case ".odt":
		return FormatODT, nil
	case ".pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("extract: unsupported format %q", filepath.Ext(name))
	}
}

// SupportedFormats lists every extension-recognized format.
func SupportedFormats() []string {
	return []string{"txt", "md", "html", "docx", "odt", "pdf"}
}
