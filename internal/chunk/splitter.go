package chunk

import (
	"strings"

	"github.com/xxxsen/repoqa/internal/model"
)

type Splitter struct {
	threshold int
	size      int
	overlap   int
}

// NewSplitter splits chunks longer than threshold characters into windows of
// at most size characters where neighbours share overlap characters.
func NewSplitter(threshold, size, overlap int) *Splitter {
	if size <= 0 {
		size = 2000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	if threshold < size {
		threshold = size
	}
	return &Splitter{threshold: threshold, size: size, overlap: overlap}
}

// Split normalizes blank chunks into placeholders and windows oversized ones.
// Everything else passes through untouched.
func (s *Splitter) Split(chunks []model.Chunk) []model.Chunk {
	out := make([]model.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			c.Content = model.EmptyContent
			c.IsEmpty = true
			out = append(out, c)
			continue
		}
		runes := []rune(c.Content)
		if len(runes) <= s.threshold {
			out = append(out, c)
			continue
		}
		for i, w := range s.windows(runes) {
			part := c
			part.Content = string(runes[w.start:w.end])
			part.StartLine = c.StartLine + countNewlines(runes[:w.start])
			part.EndLine = c.StartLine + countNewlines(runes[:w.end-1])
			part.Part = i + 1
			out = append(out, part)
		}
	}
	return out
}

type window struct {
	start int
	end   int
}

// windows prefers to end a window right after a newline found in its second
// half. The next window starts overlap characters before the previous end.
func (s *Splitter) windows(runes []rune) []window {
	n := len(runes)
	minAdvance := s.size / 2
	if minAdvance <= s.overlap {
		minAdvance = s.overlap + 1
	}
	var out []window
	start := 0
	for {
		end := start + s.size
		if end >= n {
			out = append(out, window{start: start, end: n})
			return out
		}
		for i := end; i > start+minAdvance; i-- {
			if runes[i-1] == '\n' {
				end = i
				break
			}
		}
		out = append(out, window{start: start, end: end})
		start = end - s.overlap
	}
}

func countNewlines(runes []rune) int {
	n := 0
	for _, r := range runes {
		if r == '\n' {
			n++
		}
	}
	return n
}
