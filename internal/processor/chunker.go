package processor

import "strings"

// chunkWords splits text into word windows. Consecutive windows share
// overlap words so phrases cut by a boundary remain searchable. Whitespace
// runs collapse to single spaces; empty or whitespace-only text yields no
// chunks.
func chunkWords(text string, window, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if window <= 0 {
		window = defaultChunkWords
	}
	if overlap < 0 || overlap >= window {
		overlap = 0
	}

	if len(words) <= window {
		return []string{strings.Join(words, " ")}
	}

	step := window - overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + window
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
