package knowledge

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

//go:embed academy/*.md
var academy embed.FS

// maxContextChars caps the reference text injected into one tool result
const maxContextChars = 2000

// Split breaks text into chunks of at most size runes, on paragraph
// boundaries where possible. Oversized paragraphs are split on sentence
// ends, then hard-wrapped.
func Split(text string, size int) []string {
	if size <= 0 {
		size = 800
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, piece := range splitLong(para, size) {
			if cur.Len() > 0 && runeLen(cur.String())+2+runeLen(piece) > size {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return chunks
}

func splitLong(para string, size int) []string {
	if runeLen(para) <= size {
		return []string{para}
	}
	var out []string
	var cur strings.Builder
	for _, sentence := range sentences(para) {
		if cur.Len() > 0 && runeLen(cur.String())+1+runeLen(sentence) > size {
			out = append(out, cur.String())
			cur.Reset()
		}
		for runeLen(sentence) > size {
			r := []rune(sentence)
			out = append(out, string(r[:size]))
			sentence = strings.TrimSpace(string(r[size:]))
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(sentence)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func sentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s)-1; i++ {
		if (s[i] == '.' || s[i] == '?' || s[i] == '!') && s[i+1] == ' ' {
			out = append(out, strings.TrimSpace(s[start:i+1]))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

// IngestFile chunks one file and stores it under its base name
func (s *Store) IngestFile(ctx context.Context, file string, chunkSize int) (int, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", file, err)
	}
	return s.Replace(ctx, filepath.Base(file), Split(string(data), chunkSize))
}

// SeedAcademy loads the bundled reference notes when the store is empty.
// Returns the number of chunks added.
func (s *Store) SeedAcademy(ctx context.Context, chunkSize int) (int, error) {
	n, err := s.Count(ctx)
	if err != nil || n > 0 {
		return 0, err
	}

	entries, err := fs.ReadDir(academy, "academy")
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range entries {
		data, err := academy.ReadFile(path.Join("academy", e.Name()))
		if err != nil {
			return total, err
		}
		added, err := s.Replace(ctx, "academy/"+strings.TrimSuffix(e.Name(), ".md"), Split(string(data), chunkSize))
		if err != nil {
			return total, err
		}
		total += added
	}
	return total, nil
}

// FormatContext renders retrieved chunks as numbered reference passages,
// keeping the total text within a fixed budget
func FormatContext(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[Retrieved knowledge base context]\n")
	used := 0
	for i, c := range chunks {
		if used >= maxContextChars {
			break
		}
		text := strings.TrimSpace(c.Text)
		if remaining := maxContextChars - used; runeLen(text) > remaining {
			text = string([]rune(text)[:remaining]) + " ... [truncated]"
		}
		fmt.Fprintf(&b, "\n[%d] (score: %.2f) %s\n    Source: %s\n", i+1, c.Score, text, c.Source)
		used += runeLen(text)
	}
	return b.String()
}
