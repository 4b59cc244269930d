package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"bookrag/internal/domain"
	"bookrag/internal/textutil"
)

// EPUB extracts chapters in spine order from an EPUB 2/3 container. A
// chapter that cannot be read is logged and skipped.
type EPUB struct {
	Logger *slog.Logger
}

type container struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opf struct {
	Metadata struct {
		Titles      []string `xml:"title"`
		Creators    []string `xml:"creator"`
		Languages   []string `xml:"language"`
		Publishers  []string `xml:"publisher"`
		Description []string `xml:"description"`
	} `xml:"metadata"`
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

func (e EPUB) Extract(ctx context.Context, p string) (domain.Document, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	zr, err := zip.OpenReader(p)
	if err != nil {
		return domain.Document{}, fmt.Errorf("open epub: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var c container
	if err := decodeXML(files, "META-INF/container.xml", &c); err != nil {
		return domain.Document{}, err
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return domain.Document{}, errors.New("container.xml names no package document")
	}
	opfPath := c.Rootfiles[0].FullPath
	var pkg opf
	if err := decodeXML(files, opfPath, &pkg); err != nil {
		return domain.Document{}, err
	}

	doc := domain.Document{Title: stem(p), Path: p}
	md := pkg.Metadata
	if t := first(md.Titles); t != "" {
		doc.Title = t
	}
	doc.Meta = domain.BookMeta{
		Author:      first(md.Creators),
		Language:    first(md.Languages),
		Publisher:   first(md.Publishers),
		Description: first(md.Description),
	}

	base := path.Dir(opfPath)
	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, it := range pkg.Manifest {
		if isHTML(it.MediaType, it.Href) {
			hrefs[it.ID] = it.Href
		}
	}
	var order []string
	for _, ref := range pkg.Spine {
		if h, ok := hrefs[ref.IDRef]; ok {
			order = append(order, h)
		}
	}
	if len(order) == 0 {
		for _, it := range pkg.Manifest {
			if isHTML(it.MediaType, it.Href) {
				order = append(order, it.Href)
			}
		}
	}

	n := 1
	for _, href := range order {
		if err := ctx.Err(); err != nil {
			return domain.Document{}, err
		}
		name := resolve(base, href)
		f, ok := files[name]
		if !ok {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			logger.Warn("skip unreadable chapter", "path", p, "chapter", name, "error", err)
			continue
		}
		heading, text, err := htmlText(rc)
		rc.Close()
		if err != nil {
			logger.Warn("skip unreadable chapter", "path", p, "chapter", name, "error", err)
			continue
		}
		if !keepSection(text) {
			continue
		}
		doc.Sections = append(doc.Sections, domain.Section{Title: chapterTitle(heading, n), Text: text})
		n++
	}
	return doc, nil
}

func decodeXML(files map[string]*zip.File, name string, v any) error {
	f, ok := files[name]
	if !ok {
		return fmt.Errorf("missing %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func resolve(base, href string) string {
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if u, err := url.PathUnescape(href); err == nil {
		href = u
	}
	return strings.TrimPrefix(path.Clean(path.Join(base, href)), "/")
}

func isHTML(mediaType, href string) bool {
	switch mediaType {
	case "application/xhtml+xml", "text/html":
		return true
	}
	ext := strings.ToLower(path.Ext(href))
	return ext == ".xhtml" || ext == ".html" || ext == ".htm"
}

func first(vals []string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "article": true, "aside": true, "dd": true, "dt": true,
}

var skipTags = map[string]bool{"script": true, "style": true, "head": true}

func isHeading(name string) bool { return name == "h1" || name == "h2" || name == "h3" }

// htmlText returns the first h1-h3 heading and the body text of an (X)HTML
// document. Paragraph-level elements become line breaks; other whitespace
// runs collapse to one space. Markup errors are tolerated; only read errors
// are returned.
func htmlText(r io.Reader) (heading, text string, err error) {
	z := html.NewTokenizer(r)
	var (
		b          strings.Builder
		hb         strings.Builder
		skip       int
		inHeading  int
		gotHeading bool
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", "", err
			}
			return textutil.CollapseSpace(hb.String()), normalizeLines(b.String()), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			raw, _ := z.TagName()
			name := string(raw)
			if tt == html.StartTagToken {
				switch {
				case skipTags[name]:
					skip++
				case isHeading(name) && !gotHeading:
					inHeading++
				}
			}
			if blockTags[name] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			raw, _ := z.TagName()
			name := string(raw)
			switch {
			case skipTags[name]:
				if skip > 0 {
					skip--
				}
			case isHeading(name) && inHeading > 0:
				inHeading--
				if inHeading == 0 {
					gotHeading = true
				}
			}
			if blockTags[name] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			t := z.Text()
			b.Write(t)
			if inHeading > 0 {
				hb.Write(t)
			}
		}
	}
}

// normalizeLines collapses whitespace inside each line and drops blank lines.
func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = textutil.CollapseSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
