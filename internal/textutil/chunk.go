package textutil

import "strings"

// Chunk is a piece of text with its approximate token count.
type Chunk struct {
	Text   string
	Tokens int
}

// ChunkSentences splits text at sentence boundaries (". ") into chunks of at
// most maxTokens tokens. A sentence longer than the limit is truncated into
// a chunk of its own. Empty input yields no chunks.
func ChunkSentences(text string, maxTokens int) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxTokens <= 0 {
		return []Chunk{{Text: text, Tokens: ApproxTokens(text)}}
	}

	var (
		chunks  []Chunk
		current strings.Builder
		tokens  int
	)
	flush := func() {
		if current.Len() == 0 {
			return
		}
		if chunkText := strings.TrimSpace(current.String()); chunkText != "" {
			chunks = append(chunks, Chunk{Text: chunkText, Tokens: tokens})
		}
		current.Reset()
		tokens = 0
	}

	for _, sentence := range strings.Split(text, ". ") {
		n := ApproxTokens(sentence)
		if n > maxTokens {
			flush()
			chunks = append(chunks, Chunk{Text: TruncateTokens(sentence, maxTokens), Tokens: maxTokens})
			continue
		}
		if tokens+n > maxTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(". ")
		}
		current.WriteString(sentence)
		tokens += n
	}
	flush()
	return chunks
}
