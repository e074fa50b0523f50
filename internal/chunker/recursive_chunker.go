package chunker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"docrag/internal/domain"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docrag:chunk"))

// DefaultSeparators returns the split points tried for every window, coarsest first.
// Character boundaries are the implicit last resort.
func DefaultSeparators() []string {
	return []string{
		"\n\n", // paragraphs
		"\n",   // lines
		". ",   // sentences
		"! ",
		"? ",
		" ", // words
	}
}

// Config configures the recursive chunker. Sizes are counted in characters (runes).
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// DefaultConfig returns a 1000 character window with 200 characters of overlap.
func DefaultConfig() Config {
	return Config{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap}
}

// RecursiveChunker splits text into overlapping windows of at most ChunkSize
// characters. Inside each window it breaks after the last occurrence of the
// coarsest separator available, so neighbouring small pieces are merged up to
// the size limit. Consecutive chunks share exactly ChunkOverlap characters.
type RecursiveChunker struct {
	chunkSize    int
	chunkOverlap int
	separators   [][]rune
}

func NewRecursiveChunker(cfg Config) (*RecursiveChunker, error) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfiguration, cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", domain.ErrConfiguration, cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if len(cfg.Separators) == 0 {
		cfg.Separators = DefaultSeparators()
	}
	seps := make([][]rune, 0, len(cfg.Separators))
	for _, s := range cfg.Separators {
		if s != "" {
			seps = append(seps, []rune(s))
		}
	}
	return &RecursiveChunker{
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		separators:   seps,
	}, nil
}

func (c *RecursiveChunker) ChunkSize() int    { return c.chunkSize }
func (c *RecursiveChunker) ChunkOverlap() int { return c.chunkOverlap }

// Split cuts one document into chunks. A document with no non-space content yields none.
func (c *RecursiveChunker) Split(document domain.Document) ([]domain.Chunk, error) {
	if strings.TrimSpace(document.Content) == "" {
		return nil, nil
	}
	runes := []rune(document.Content)
	var chunks []domain.Chunk
	start := 0
	for {
		end := len(runes)
		if end-start > c.chunkSize {
			end = c.breakPoint(runes, start)
		}
		chunks = append(chunks, c.newChunk(document, runes[start:end], len(chunks), start))
		if end >= len(runes) {
			break
		}
		start = end - c.chunkOverlap
	}
	return chunks, nil
}

// SplitMany splits every document and concatenates the chunks in input order.
func (c *RecursiveChunker) SplitMany(documents []domain.Document) ([]domain.Chunk, error) {
	var all []domain.Chunk
	for _, d := range documents {
		chunks, err := c.Split(d)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", d.Source(), err)
		}
		all = append(all, chunks...)
	}
	return all, nil
}

// breakPoint returns the exclusive end of the window starting at start.
// The end always lies in (start+overlap, start+chunkSize] so the next window
// makes progress. A separator is first only accepted past the middle of the
// new text, so a coarse break near the start does not leave a chunk that the
// next one almost fully repeats.
func (c *RecursiveChunker) breakPoint(runes []rune, start int) int {
	limit := start + c.chunkSize
	floor := start + c.chunkOverlap
	minFill := floor + (c.chunkSize-c.chunkOverlap)/2
	for _, lo := range []int{minFill, floor} {
		if end := c.lastSeparator(runes, start, lo, limit); end > 0 {
			return end
		}
	}
	// No separator fits: hard split at the character boundary.
	return limit
}

// lastSeparator returns the largest end in (lo, limit] that follows the
// coarsest separator found there, or 0.
func (c *RecursiveChunker) lastSeparator(runes []rune, start, lo, limit int) int {
	for _, sep := range c.separators {
		for end := limit; end > lo; end-- {
			i := end - len(sep)
			if i < start {
				break
			}
			if hasRunesAt(runes, i, sep) {
				return end
			}
		}
	}
	return 0
}

func hasRunesAt(runes []rune, i int, sep []rune) bool {
	if i+len(sep) > len(runes) {
		return false
	}
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

func (c *RecursiveChunker) newChunk(document domain.Document, text []rune, index, startChar int) domain.Chunk {
	content := string(text)
	meta := domain.CloneMetadata(document.Metadata)
	meta[domain.MetaChunkIndex] = strconv.Itoa(index)
	meta[domain.MetaStartChar] = strconv.Itoa(startChar)
	return domain.Chunk{
		ID:       chunkID(document, startChar, content),
		Content:  content,
		Metadata: meta,
		Index:    index,
	}
}

// chunkID is stable for the same source, position and text, which keeps
// re-indexing a file idempotent.
func chunkID(document domain.Document, startChar int, content string) string {
	key := strings.Join([]string{
		document.Metadata[domain.MetaSource],
		document.Metadata[domain.MetaPage],
		strconv.Itoa(startChar),
		content,
	}, "\x00")
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}
