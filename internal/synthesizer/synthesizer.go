// Package synthesizer turns retrieved chunks into an answer, either through a
// text generator or by listing the chunks themselves.
package synthesizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docrag/internal/domain"
	"docrag/internal/generation"
)

type Mode string

const (
	ModeGenerative    Mode = "generative"
	ModeRetrievalOnly Mode = "retrieval_only"
)

// Answer is always returned, also on failure; Success tells the two apart.
type Answer struct {
	Text    string
	Sources []domain.Chunk
	Success bool
	Mode    Mode
}

// SourcePreview is a short, displayable view of one source chunk.
type SourcePreview struct {
	Source  string
	Page    string
	Preview string
}

// Previews returns one preview per source, cut to n runes.
func (a Answer) Previews(n int) []SourcePreview {
	out := make([]SourcePreview, len(a.Sources))
	for i, c := range a.Sources {
		out[i] = SourcePreview{Source: c.Source(), Page: c.Metadata[domain.MetaPage], Preview: Truncate(c.Content, n)}
	}
	return out
}

// Synthesizer answers a question. Failures are reported inside the Answer.
type Synthesizer interface {
	Mode() Mode
	Answer(ctx context.Context, question string) Answer
}

// Truncate cuts s to n runes and marks the cut with "...".
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

const (
	systemPrompt = "You are a helpful assistant that answers questions based on the provided context."

	userTemplate = `Use the following pieces of context to answer the question at the end.
If you don't know the answer based on the context provided, just say that you don't know, don't try to make up an answer.

Context: %s

Question: %s

Helpful Answer:`
)

// DefaultMaxContextTokens bounds the context block sent to the generator.
const DefaultMaxContextTokens = 3000

type GenerativeOptions struct {
	MaxContextTokens int
	Counter          *generation.TokenCounter
	Logger           *slog.Logger
}

// Generative answers with a text generator grounded on the retrieved chunks.
type Generative struct {
	retriever domain.ChunkRetriever
	generator generation.Generator
	maxTokens int
	counter   *generation.TokenCounter
	logger    *slog.Logger
}

func NewGenerative(retriever domain.ChunkRetriever, generator generation.Generator, opts GenerativeOptions) *Generative {
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = DefaultMaxContextTokens
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Counter == nil {
		opts.Counter = generation.NewTokenCounter(opts.Logger)
	}
	return &Generative{
		retriever: retriever,
		generator: generator,
		maxTokens: opts.MaxContextTokens,
		counter:   opts.Counter,
		logger:    opts.Logger,
	}
}

func (g *Generative) Mode() Mode { return ModeGenerative }

func (g *Generative) Answer(ctx context.Context, question string) Answer {
	chunks, err := g.retriever.Retrieve(ctx, question)
	if err != nil {
		return g.failure(err)
	}
	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	block := strings.Join(contents, "\n\n")
	if trimmed := g.counter.Truncate(block, g.maxTokens); len(trimmed) < len(block) {
		g.logger.Debug("context trimmed to token budget", "max_tokens", g.maxTokens, "chunks", len(chunks))
		block = trimmed
	}
	text, err := g.generator.Generate(ctx, generation.Prompt{
		System: systemPrompt,
		User:   fmt.Sprintf(userTemplate, block, question),
	})
	if err != nil {
		return g.failure(err)
	}
	return Answer{Text: text, Sources: chunks, Success: true, Mode: ModeGenerative}
}

func (g *Generative) failure(err error) Answer {
	g.logger.Warn("answer generation failed", "generator", g.generator.Name(), "error", err)
	return Answer{
		Text:    fmt.Sprintf("Error processing query: %v", err),
		Sources: []domain.Chunk{},
		Success: false,
		Mode:    ModeGenerative,
	}
}

// PreviewLength is the number of runes shown per chunk in retrieval-only answers.
const PreviewLength = 500

const (
	noResultsText = "I couldn't find any relevant information in the documents to answer your question."
	foundHeader   = "Based on your documents, here's what I found:\n\n"
	disclaimer    = "\n\n*Note: This is a simple context retrieval. No answer was generated; configure a generator for AI-generated answers.*"
)

// RetrievalOnly lists the retrieved chunks without generating text.
type RetrievalOnly struct {
	retriever domain.ChunkRetriever
	logger    *slog.Logger
}

func NewRetrievalOnly(retriever domain.ChunkRetriever, logger *slog.Logger) *RetrievalOnly {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalOnly{retriever: retriever, logger: logger}
}

func (r *RetrievalOnly) Mode() Mode { return ModeRetrievalOnly }

func (r *RetrievalOnly) Answer(ctx context.Context, question string) Answer {
	chunks, err := r.retriever.Retrieve(ctx, question)
	if err != nil {
		r.logger.Warn("retrieval failed", "error", err)
		return Answer{
			Text:    fmt.Sprintf("Error searching documents: %v", err),
			Sources: []domain.Chunk{},
			Mode:    ModeRetrievalOnly,
		}
	}
	if len(chunks) == 0 {
		return Answer{Text: noResultsText, Sources: []domain.Chunk{}, Success: true, Mode: ModeRetrievalOnly}
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("**Source %d (%s):**\n%s", i+1, c.Source(), Truncate(c.Content, PreviewLength))
	}
	var b strings.Builder
	b.WriteString(foundHeader)
	b.WriteString(strings.Join(parts, "\n\n---\n\n"))
	b.WriteString(disclaimer)
	return Answer{Text: b.String(), Sources: chunks, Success: true, Mode: ModeRetrievalOnly}
}
