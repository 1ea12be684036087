package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// extractDocx reads word/document.xml out of the .docx zip archive and
// concatenates each paragraph's text runs, one paragraph per line.
// Adapted from docpipe's extractDocx for a []byte input instead of a path.
func extractDocx(data []byte) (string, error) {
	return extractZippedXML(data, "word/document.xml", "p")
}

// extractODT reads content.xml out of the .odt zip archive the same way.
func extractODT(data []byte) (string, error) {
	return extractZippedXML(data, "content.xml", "p")
}

// extractZippedXML streams paragraphEl text (ignoring XML namespace
// prefixes) out of member inside a zip archive.
func extractZippedXML(data []byte, member, paragraphEl string) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("extract: open zip: %w", err)
	}

	var target *zip.File
	for _, f := range r.File {
		if f.Name == member {
			target = f
			break
		}
	}
	if target == nil {
		return "", fmt.Errorf("extract: %s not found in archive", member)
	}

	rc, err := target.Open()
	if err != nil {
		return "", fmt.Errorf("extract: open %s: %w", member, err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var paragraphs []string
	var current strings.Builder
	inParagraph := false

	matches := func(name xml.Name, want string) bool {
		return name.Local == want
	}

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if matches(t.Name, paragraphEl) {
				inParagraph = true
				current.Reset()
			}
		case xml.CharData:
			if inParagraph {
				current.Write(t)
			}
		case xml.EndElement:
			if matches(t.Name, paragraphEl) && inParagraph {
				inParagraph = false
				text := strings.TrimSpace(current.String())
				if text != "" {
					paragraphs = append(paragraphs, text)
				}
			}
		}
	}

	if len(paragraphs) == 0 {
		return "", fmt.Errorf("extract: no text content found in %s", member)
	}
	return strings.Join(paragraphs, "\n"), nil
}
