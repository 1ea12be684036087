package extract

import (
	"fmt"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	sanitizePolicy = bluemonday.UGCPolicy()

	mdConverterOnce sync.Once
	mdConverter     *converter.Converter
)

func getMDConverter() *converter.Converter {
	mdConverterOnce.Do(func() {
		mdConverter = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
	})
	return mdConverter
}

// extractHTML sanitizes the document with bluemonday's UGC policy (dropping
// script/style/event-handler content) and converts what survives to
// markdown, preserving headings, lists and tables instead of flattening
// everything to bare text.
func extractHTML(data []byte) (string, error) {
	if _, err := html.Parse(strings.NewReader(string(data))); err != nil {
		return "", fmt.Errorf("extract: parse html: %w", err)
	}

	sanitized := sanitizePolicy.SanitizeBytes(data)
	md, err := getMDConverter().ConvertString(string(sanitized))
	if err != nil {
		return "", fmt.Errorf("extract: html to markdown: %w", err)
	}

	text := strings.TrimSpace(md)
	if text == "" {
		return "", fmt.Errorf("extract: no text content found in html document")
	}
	return text, nil
}
