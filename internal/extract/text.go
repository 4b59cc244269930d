package extract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"bookrag/internal/domain"
)

// Text reads plain-text and Markdown files. Lines starting with "#" open a
// new section titled by the heading; text before the first heading forms a
// section titled after the file.
type Text struct{}

func (Text) Extract(ctx context.Context, path string) (domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, err
	}
	if !utf8.Valid(data) {
		return domain.Document{}, fmt.Errorf("%s is not valid UTF-8", path)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	doc := domain.Document{Title: stem(path), Path: path}
	title := doc.Title
	var body strings.Builder
	n := 1
	flush := func() {
		text := strings.TrimSpace(body.String())
		body.Reset()
		if !keepSection(text) {
			return
		}
		doc.Sections = append(doc.Sections, domain.Section{Title: chapterTitle(title, n), Text: text})
		n++
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return domain.Document{}, err
		}
		line := sc.Text()
		if h, ok := heading(line); ok {
			flush()
			title = h
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return domain.Document{}, err
	}
	flush()
	return doc, nil
}

func heading(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, "#")
	if len(trimmed) == len(line) || len(line)-len(trimmed) > 6 {
		return "", false
	}
	if trimmed != "" && trimmed[0] != ' ' {
		return "", false
	}
	return strings.TrimSpace(trimmed), true
}
