package domain

import "strconv"

// Section is one chapter-like unit of a document, in reading order.
type Section struct {
	Title string
	Text  string
}

// BookMeta carries optional bibliographic fields.
type BookMeta struct {
	Author      string
	Language    string
	Publisher   string
	Description string
}

// Document is a single e-book (or text/PDF file) after extraction.
type Document struct {
	Title    string
	Path     string
	Meta     BookMeta
	Sections []Section
}

// Chunk is a contiguous piece of a section used for indexing.
type Chunk struct {
	BookTitle    string `json:"book_title"`
	SectionTitle string `json:"section_title"`
	ChunkIndex   int    `json:"chunk_index"`
	Text         string `json:"text"`
	SourcePath   string `json:"source_path"`
}

// Metadata keys exposed on search results.
const (
	MetaBookTitle    = "book_title"
	MetaSectionTitle = "section_title"
	MetaChunkIndex   = "chunk_index"
	MetaSourcePath   = "source_path"
)

// Metadata renders the chunk tags as the string map handed to prompt builders.
func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		MetaBookTitle:    c.BookTitle,
		MetaSectionTitle: c.SectionTitle,
		MetaChunkIndex:   strconv.Itoa(c.ChunkIndex),
		MetaSourcePath:   c.SourcePath,
	}
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk    Chunk
	Text     string
	Metadata map[string]string
	Score    float64
}

// NewSearchResult builds a result for the given chunk and score.
func NewSearchResult(c Chunk, score float64) SearchResult {
	return SearchResult{Chunk: c, Text: c.Text, Metadata: c.Metadata(), Score: score}
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
