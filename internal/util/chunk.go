package util

import "strings"

// ChunkText splits content into word-window chunks of roughly size words with
// the given overlap between consecutive chunks. Overlap keeps sentences that
// straddle a boundary retrievable from both sides.
func ChunkText(content string, size, overlap int) []string {
	if size <= 0 {
		size = 200
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// EstimateTokens approximates the token count of text. Four characters per
// token tracks closely enough for budget enforcement.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		return 1
	}
	return n
}
