package domain

import "context"

// Metadata keys every loader and chunker agrees on.
const (
	MetaSource     = "source"
	MetaPage       = "page"
	MetaChunkIndex = "chunk_index"
	MetaStartChar  = "start_char"
)

// Document represents a single loaded unit of text (a text file or one PDF page).
type Document struct {
	Content  string
	Metadata map[string]string
}

// Source returns the origin path of the document.
func (d Document) Source() string { return d.Metadata[MetaSource] }

// Chunk is a contiguous part of a document used for indexing.
type Chunk struct {
	ID       string
	Content  string
	Metadata map[string]string
	Index    int
}

// Source returns the origin path inherited from the document.
func (c Chunk) Source() string { return c.Metadata[MetaSource] }

// Entry is a chunk together with its embedding as held by a vector store.
type Entry struct {
	Seq      uint64
	Chunk    Chunk
	Vector   []float32
	Fallback bool
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk    Chunk
	Score    float64
	Fallback bool
}

// Loader turns files into documents.
type Loader interface {
	Load(path string) ([]Document, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Split(document Document) ([]Chunk, error)
	SplitMany(documents []Document) ([]Chunk, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// ChunkRetriever returns the chunks most relevant to a query, best first.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, query string) ([]Chunk, error)
}

// CloneMetadata returns a copy of m that is never nil.
func CloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
