package chunker

import (
	"strings"

	"bookrag/internal/domain"
)

// Default window parameters, in characters (runes).
const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// isBoundary reports whether r ends a sentence or a line.
func isBoundary(r rune) bool {
	switch r {
	case '。', '．', '！', '？', '\n', '.', '!', '?':
		return true
	}
	return false
}

// Split cuts text into windows of at most chunkSize runes, preferring to end
// each window right after a sentence terminator in its second half. A window
// that was pulled back to a terminator is followed by one starting overlap
// runes before the nominal boundary. Results are trimmed and never empty.
func Split(text string, chunkSize, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if chunkSize <= 0 || len(runes) <= chunkSize {
		return []string{strings.TrimSpace(text)}
	}
	if overlap < 0 {
		overlap = 0
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if end < len(runes) {
			floor := start + chunkSize/2
			for i := end; i > floor; i-- {
				if isBoundary(runes[i]) {
					end = i + 1
					break
				}
			}
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end >= len(runes) {
			break
		}
		// end > start, so this always advances even when overlap >= chunkSize.
		next := start + chunkSize - overlap
		if next < end {
			next = end
		}
		start = next
	}
	return chunks
}

// ChunkDocument splits every section of doc and tags the pieces with their
// book, section and per-section position. Pieces shorter than minLen runes
// are dropped.
func ChunkDocument(doc domain.Document, chunkSize, overlap, minLen int) []domain.Chunk {
	var out []domain.Chunk
	for _, sec := range doc.Sections {
		idx := 0
		for _, piece := range Split(sec.Text, chunkSize, overlap) {
			if len([]rune(piece)) < minLen {
				continue
			}
			out = append(out, domain.Chunk{
				BookTitle:    doc.Title,
				SectionTitle: sec.Title,
				ChunkIndex:   idx,
				Text:         piece,
				SourcePath:   doc.Path,
			})
			idx++
		}
	}
	return out
}
