package extract

import "strings"

// extractPlainText passes plain text through after normalizing line
// endings and trimming trailing whitespace, matching docpipe's
// whitespace-normalization-only treatment of .txt files.
func extractPlainText(data []byte) (string, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.TrimRight(text, " \t\n"), nil
}

// extractMarkdown strips the leading '#' run from heading lines and
// passes the rest of the document through unchanged, keeping the
// extraction lightweight rather than re-implementing a full Markdown AST.
func extractMarkdown(data []byte) (string, error) {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, "#")
		if trimmed != line && strings.HasPrefix(strings.TrimSpace(trimmed), "") {
			lines[i] = strings.TrimSpace(trimmed)
		}
	}
	return strings.TrimRight(strings.Join(lines, "\n"), " \t\n"), nil
}
