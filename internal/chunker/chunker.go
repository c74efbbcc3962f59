package chunker

import (
	"regexp"
	"strings"
)

// Chunker cuts extracted text into overlapping segments. Boundaries prefer
// paragraph breaks, then sentence ends, then hard cuts. The output depends
// only on the input text and the two parameters, never on run order.
type Chunker struct {
	size    int
	overlap int
}

var sentenceRe = regexp.MustCompile(`[^.!?]*[.!?]+[)\]"']*\s*|[^.!?]+$`)

func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the chunk texts for one block of text (one page, usually).
// Every chunk is at most size+overlap runes long.
func (c *Chunker) Split(text string) []string {
	units := c.units(text)
	if len(units) == 0 {
		return nil
	}
	limit := c.size + c.overlap
	var chunks []string
	current := ""
	for _, unit := range units {
		switch {
		case current == "":
			current = unit
		case runeLen(current)+1+runeLen(unit) <= limit:
			current = current + " " + unit
		default:
			chunks = append(chunks, current)
			prefix := tail(current, c.overlap)
			if c.overlap > 0 && runeLen(prefix)+1+runeLen(unit) <= limit {
				current = prefix + " " + unit
			} else {
				current = unit
			}
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// units breaks text into pieces no longer than size runes: paragraphs,
// long paragraphs into sentences, long sentences into hard cuts.
func (c *Chunker) units(text string) []string {
	var units []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(strings.ReplaceAll(para, "\n", " "))
		if para == "" {
			continue
		}
		if runeLen(para) <= c.size {
			units = append(units, para)
			continue
		}
		for _, sentence := range sentenceRe.FindAllString(para, -1) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				continue
			}
			if runeLen(sentence) <= c.size {
				units = append(units, sentence)
				continue
			}
			units = append(units, hardCut(sentence, c.size)...)
		}
	}
	return units
}

func hardCut(s string, size int) []string {
	runes := []rune(s)
	var parts []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func runeLen(s string) int {
	return len([]rune(s))
}
