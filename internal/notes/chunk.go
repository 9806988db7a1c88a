package notes

import "strings"

const (
	maxChunkChars     = 1200
	chunkOverlapChars = 120
)

// SplitChunks splits note content into embedding-sized chunks. Paragraph
// boundaries are preferred; oversized paragraphs are split with a small
// overlap so sentences near a cut appear in both neighbors.
func SplitChunks(content string) []Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var pieces []string
	var current strings.Builder
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > maxChunkChars {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if len(para) > maxChunkChars {
			if current.Len() > 0 {
				pieces = append(pieces, current.String())
				current.Reset()
			}
			pieces = append(pieces, splitLong(para)...)
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{Index: i, Content: p}
	}
	return chunks
}

func splitLong(s string) []string {
	var out []string
	for len(s) > maxChunkChars {
		cut := maxChunkChars
		// Back up to the nearest space to avoid cutting mid-word.
		if idx := strings.LastIndexByte(s[:cut], ' '); idx > maxChunkChars/2 {
			cut = idx
		}
		out = append(out, strings.TrimSpace(s[:cut]))
		next := cut - chunkOverlapChars
		if next < 0 {
			next = 0
		}
		s = s[next:]
		if len(out) > 256 {
			break
		}
	}
	if t := strings.TrimSpace(s); t != "" {
		out = append(out, t)
	}
	return out
}
