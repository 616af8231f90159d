// Package chunk provides document splitting for embedding and retrieval.
package chunk

import "strings"

// Chunk represents a piece of a document with its provenance.
type Chunk struct {
	Source  string // identifier of the document the chunk came from
	Ordinal int    // position of the chunk within the document
	Content string

	// IsPlaceholder marks the seed entry used to bootstrap an otherwise
	// empty index. Callers must filter it out of user-facing results.
	IsPlaceholder bool
}

// placeholderContent is the text embedded for the bootstrap entry. The
// flag, not this string, is what identifies a placeholder.
const placeholderContent = "This index has no documents yet."

// Placeholder returns the seed chunk used to create an index before any
// real content exists.
func Placeholder() Chunk {
	return Chunk{
		Source:        "placeholder",
		Content:       placeholderContent,
		IsPlaceholder: true,
	}
}

// Texts returns the content of each chunk, in order.
func Texts(chunks []Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	return texts
}

// OnlyPlaceholder reports whether the chunks consist of exactly one
// placeholder entry, i.e. the store holds no real content yet.
func OnlyPlaceholder(chunks []Chunk) bool {
	return len(chunks) == 1 && chunks[0].IsPlaceholder
}

// FilterPlaceholders removes placeholder entries from a result set.
func FilterPlaceholders(chunks []Chunk) []Chunk {
	filtered := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.IsPlaceholder {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// SplitterConfig holds configuration for the splitter.
type SplitterConfig struct {
	ChunkSize    int // target chunk size in characters
	ChunkOverlap int // overlap between consecutive chunks in characters
}

// DefaultSplitterConfig returns default splitter configuration.
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}

// Splitter splits document text into chunks for embedding.
type Splitter struct {
	config SplitterConfig
}

// NewSplitter creates a new Splitter with the given configuration.
func NewSplitter(cfg SplitterConfig) *Splitter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultSplitterConfig().ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = DefaultSplitterConfig().ChunkOverlap
		if cfg.ChunkOverlap >= cfg.ChunkSize {
			cfg.ChunkOverlap = cfg.ChunkSize / 4
		}
	}
	return &Splitter{config: cfg}
}

// Split breaks document content into chunks, preferring paragraph
// boundaries and falling back to a sliding window for oversized
// paragraphs.
func (s *Splitter) Split(content, source string) []Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	paragraphs := splitParagraphs(content)

	var chunks []Chunk
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			chunks = append(chunks, Chunk{
				Source:  source,
				Ordinal: len(chunks),
				Content: text,
			})
		}
		current.Reset()
	}

	for _, para := range paragraphs {
		if len(para) > s.config.ChunkSize {
			flush()
			for _, piece := range s.slidingWindow(para) {
				chunks = append(chunks, Chunk{
					Source:  source,
					Ordinal: len(chunks),
					Content: piece,
				})
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > s.config.ChunkSize {
			tail := overlapTail(current.String(), s.config.ChunkOverlap)
			flush()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString("\n\n")
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// slidingWindow splits an oversized paragraph into fixed-size pieces
// with overlap, cutting on rune boundaries.
func (s *Splitter) slidingWindow(text string) []string {
	runes := []rune(text)
	step := s.config.ChunkSize - s.config.ChunkOverlap
	if step <= 0 {
		step = s.config.ChunkSize
	}

	var pieces []string
	for start := 0; start < len(runes); start += step {
		end := start + s.config.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			pieces = append(pieces, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return pieces
}

// splitParagraphs splits text on blank lines.
func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// overlapTail returns up to n trailing characters of text, starting at a
// word boundary when possible.
func overlapTail(text string, n int) string {
	text = strings.TrimSpace(text)
	if n <= 0 || text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	tail := string(runes[len(runes)-n:])
	if idx := strings.IndexAny(tail, " \t\n"); idx >= 0 && idx < len(tail)-1 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}
