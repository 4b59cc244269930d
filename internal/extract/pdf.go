package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"bookrag/internal/domain"
)

// PDF extracts one section per page with text.
type PDF struct{}

func (PDF) Extract(ctx context.Context, path string) (domain.Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	doc := domain.Document{Title: stem(path), Path: path}
	info := r.Trailer().Key("Info")
	if t := strings.TrimSpace(info.Key("Title").Text()); t != "" {
		doc.Title = t
	}
	doc.Meta.Author = strings.TrimSpace(info.Key("Author").Text())

	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return domain.Document{}, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return domain.Document{}, fmt.Errorf("page %d: %w", i, err)
		}
		text = normalizeLines(text)
		if !keepSection(text) {
			continue
		}
		doc.Sections = append(doc.Sections, domain.Section{Title: fmt.Sprintf("Page %d", i), Text: text})
	}
	return doc, nil
}
