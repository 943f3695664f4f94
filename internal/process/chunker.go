package process

import "strings"

// Chunking parameters for the recursive character splitter.
const (
	chunkSize    = 1000
	chunkOverlap = 200
)

// separators are tried in order; the splitter recurses to the next
// separator only when a piece still exceeds the chunk size.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunk splits text into overlapping chunks of at most chunkSize
// characters, preferring to break at paragraph, line, sentence, and
// word boundaries in that order.
func Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}
	pieces := split(text, 0)
	return merge(pieces)
}

// split recursively divides text on the separator cascade until every
// piece fits in a chunk.
func split(text string, sepIdx int) []string {
	if len(text) <= chunkSize {
		return []string{text}
	}
	if sepIdx >= len(separators) {
		// No separator left; hard-cut.
		var out []string
		for len(text) > chunkSize {
			out = append(out, text[:chunkSize])
			text = text[chunkSize:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}

	sep := separators[sepIdx]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return split(text, sepIdx+1)
	}

	var out []string
	for i, part := range parts {
		// Re-attach the separator so merged chunks read naturally.
		if i < len(parts)-1 {
			part += sep
		}
		if len(part) > chunkSize {
			out = append(out, split(part, sepIdx+1)...)
		} else if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// merge packs pieces into chunks up to chunkSize, carrying chunkOverlap
// characters of trailing context into the next chunk.
func merge(pieces []string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		tail := current.String()
		if len(tail) > chunkOverlap {
			tail = tail[len(tail)-chunkOverlap:]
		}
		current.Reset()
		current.WriteString(tail)
	}

	for _, piece := range pieces {
		if current.Len()+len(piece) > chunkSize && current.Len() > 0 {
			flush()
		}
		current.WriteString(piece)
	}
	if strings.TrimSpace(current.String()) != "" {
		chunk := strings.TrimSpace(current.String())
		if len(chunks) == 0 || chunks[len(chunks)-1] != chunk {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
