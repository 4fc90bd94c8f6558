package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/bobarin/reelsmith/internal/services"
)

// Words shown per caption cue
const wordsPerCue = 6

// Caption is one sentence overlay placed on the timeline.
type Caption struct {
	Text   string
	Start  float64
	Length float64
}

// SplitSentences splits text on '.', '!' and '?', keeping the terminator
// with its sentence. Blank fragments are discarded.
func SplitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		// Runs like "..." or "?!" stay with their sentence
		if isSentenceEnd(r) && (i+1 == len(runes) || !isSentenceEnd(runes[i+1])) {
			flush()
		}
	}
	flush()

	return sentences
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// SentenceCaptions distributes the sentences of text evenly across total
// seconds, back to back.
func SentenceCaptions(text string, total float64) []Caption {
	sentences := SplitSentences(text)
	if len(sentences) == 0 || total <= 0 {
		return nil
	}

	length := total / float64(len(sentences))
	captions := make([]Caption, len(sentences))
	for i, s := range sentences {
		captions[i] = Caption{Text: s, Start: float64(i) * length, Length: length}
	}
	return captions
}

// chunkWords groups words into cues of at most size words, also breaking
// after sentence-ending punctuation.
func chunkWords(words []services.WordTimestamp, size int) [][]services.WordTimestamp {
	var chunks [][]services.WordTimestamp
	var current []services.WordTimestamp

	for _, word := range words {
		if strings.TrimSpace(word.Word) == "" {
			continue
		}
		current = append(current, word)

		isSentenceEnd := strings.ContainsAny(word.Word, ".!?")
		if len(current) >= size || (isSentenceEnd && len(current) >= 2) {
			chunks = append(chunks, current)
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}

// BuildSRT renders word timings as an SRT caption file. It returns "" when
// there are no words.
func BuildSRT(words []services.WordTimestamp) string {
	chunks := chunkWords(words, wordsPerCue)
	if len(chunks) == 0 {
		return ""
	}

	var b strings.Builder
	for i, chunk := range chunks {
		texts := make([]string, len(chunk))
		for j, w := range chunk {
			texts[j] = strings.TrimSpace(w.Word)
		}

		start := chunk[0].Start
		end := chunk[len(chunk)-1].End
		if end <= start {
			end = start + 0.5
		}

		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, formatSRTTime(start), formatSRTTime(end), strings.Join(texts, " "))
	}
	return b.String()
}

// formatSRTTime converts seconds to HH:MM:SS,mmm.
func formatSRTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int(math.Round(seconds * 1000))
	return fmt.Sprintf("%02d:%02d:%02d,%03d", ms/3600000, (ms/60000)%60, (ms/1000)%60, ms%1000)
}
