// Package partition is the "partition" reference StepHandler: it splits
// previously extracted text into overlapping partitions on paragraph then
// sentence then word boundaries. A simpler chunker might fall back from
// paragraphs directly to a word-level sliding window; this version inserts
// a sentence-level pass between the two for better boundary quality.
package partition

import (
	"strings"
	"unicode"
)

// Options configures partitioning.
type Options struct {
	// MaxTokens is the maximum number of tokens per partition. Default: 512.
	MaxTokens int
	// OverlapTokens is the number of tokens to overlap between consecutive
	// partitions. Default: 64.
	OverlapTokens int
	// MinPartitionTokens merges a trailing undersized partition into its
	// predecessor. Default: 32.
	MinPartitionTokens int
}

func (o *Options) defaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
	if o.OverlapTokens <= 0 {
		o.OverlapTokens = 64
	}
	if o.MinPartitionTokens <= 0 {
		o.MinPartitionTokens = 32
	}
}

// Partition is one text fragment with its position in the sequence.
type Partition struct {
	Index       int
	Text        string
	TokenCount  int
	OverlapPrev int
}

// Split divides text into overlapping partitions on a paragraph → sentence
// → word boundary cascade.
func Split(text string, opts Options) []Partition {
	opts.defaults()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	words := tokenize(text)
	if len(words) <= opts.MaxTokens {
		return []Partition{{Index: 0, Text: text, TokenCount: len(words)}}
	}

	paragraphs := splitOnDoubleLF(text)
	if len(paragraphs) <= 1 {
		return slidingWindow(words, opts)
	}

	var parts []Partition
	flush := func(buf string) {
		t := strings.TrimSpace(buf)
		if t == "" {
			return
		}
		tc := countTokens(t)
		if tc < opts.MinPartitionTokens && len(parts) > 0 {
			prev := &parts[len(parts)-1]
			prev.Text += "\n\n" + t
			prev.TokenCount += tc
			return
		}
		parts = append(parts, Partition{Index: len(parts), Text: t, TokenCount: tc})
	}

	var current strings.Builder
	var currentTokens int
	for _, para := range paragraphs {
		paraTokens := countTokens(para)

		if paraTokens > opts.MaxTokens {
			flush(current.String())
			current.Reset()
			currentTokens = 0
			for _, sub := range splitLargeParagraph(para, opts) {
				sub.Index = len(parts)
				parts = append(parts, sub)
			}
			continue
		}

		if currentTokens+paraTokens > opts.MaxTokens {
			flush(current.String())
			overlap := extractOverlap(current.String(), opts.OverlapTokens)
			current.Reset()
			currentTokens = 0
			if overlap != "" {
				current.WriteString(overlap)
				currentTokens = countTokens(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}
	flush(current.String())

	for i := 1; i < len(parts); i++ {
		parts[i].OverlapPrev = computeOverlap(parts[i-1].Text, parts[i].Text)
	}
	return parts
}

// splitLargeParagraph breaks a too-large paragraph into sentences first,
// falling back to a word-level sliding window for any sentence that is
// itself too large.
func splitLargeParagraph(para string, opts Options) []Partition {
	sentences := splitSentences(para)
	if len(sentences) <= 1 {
		return slidingWindow(tokenize(para), opts)
	}

	var parts []Partition
	var current strings.Builder
	var currentTokens int
	for _, sent := range sentences {
		sentTokens := countTokens(sent)
		if sentTokens > opts.MaxTokens {
			if current.Len() > 0 {
				parts = append(parts, Partition{Index: len(parts), Text: strings.TrimSpace(current.String()), TokenCount: currentTokens})
				current.Reset()
				currentTokens = 0
			}
			parts = append(parts, slidingWindow(tokenize(sent), opts)...)
			continue
		}
		if currentTokens+sentTokens > opts.MaxTokens {
			parts = append(parts, Partition{Index: len(parts), Text: strings.TrimSpace(current.String()), TokenCount: currentTokens})
			current.Reset()
			currentTokens = 0
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sent)
		currentTokens += sentTokens
	}
	if strings.TrimSpace(current.String()) != "" {
		parts = append(parts, Partition{Index: len(parts), Text: strings.TrimSpace(current.String()), TokenCount: currentTokens})
	}
	for i := range parts {
		parts[i].Index = i
	}
	return parts
}

// slidingWindow splits words into overlapping partitions, the fallback
// used when neither paragraph nor sentence boundaries fit MaxTokens.
func slidingWindow(words []string, opts Options) []Partition {
	var parts []Partition
	stride := opts.MaxTokens - opts.OverlapTokens
	if stride <= 0 {
		stride = opts.MaxTokens / 2
	}
	if stride <= 0 {
		stride = 1
	}

	for start := 0; start < len(words); start += stride {
		end := start + opts.MaxTokens
		if end > len(words) {
			end = len(words)
		}

		text := strings.Join(words[start:end], " ")
		overlapPrev := 0
		if start > 0 {
			overlapPrev = opts.OverlapTokens
			if overlapPrev > start {
				overlapPrev = start
			}
		}

		tc := end - start
		if tc < opts.MinPartitionTokens && len(parts) > 0 {
			prev := &parts[len(parts)-1]
			prev.Text += " " + text
			prev.TokenCount += tc
			break
		}

		parts = append(parts, Partition{Index: len(parts), Text: text, TokenCount: tc, OverlapPrev: overlapPrev})
		if end >= len(words) {
			break
		}
	}
	return parts
}

func tokenize(text string) []string { return strings.Fields(text) }

func countTokens(text string) int { return len(strings.Fields(text)) }

func splitOnDoubleLF(text string) []string {
	var parts []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// splitSentences splits on '.', '!', '?' followed by whitespace, a
// deliberately simple heuristic rather than a full sentence-boundary
// model.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			next := rune(0)
			if i+1 < len(runes) {
				next = runes[i+1]
			}
			if next == 0 || unicode.IsSpace(next) {
				sentences = append(sentences, strings.TrimSpace(current.String()))
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}
	return sentences
}

func extractOverlap(text string, n int) string {
	words := tokenize(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}

func computeOverlap(a, b string) int {
	wordsA := tokenize(a)
	wordsB := tokenize(b)
	maxOverlap := len(wordsA)
	if len(wordsB) < maxOverlap {
		maxOverlap = len(wordsB)
	}
	for n := maxOverlap; n > 0; n-- {
		match := true
		for i := 0; i < n; i++ {
			if wordsA[len(wordsA)-n+i] != wordsB[i] {
				match = false
				break
			}
		}
		if match {
			return n
		}
	}
	return 0
}
