package synthesizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
	"docrag/internal/generation"
)

type fixedRetriever struct {
	chunks []domain.Chunk
	err    error
}

func (f fixedRetriever) Retrieve(context.Context, string) ([]domain.Chunk, error) {
	return f.chunks, f.err
}

type recordingGenerator struct {
	prompt generation.Prompt
	out    string
	err    error
}

func (r *recordingGenerator) Name() string { return "recording" }

func (r *recordingGenerator) Generate(_ context.Context, p generation.Prompt) (string, error) {
	r.prompt = p
	return r.out, r.err
}

func chunk(source, content string) domain.Chunk {
	return domain.Chunk{ID: source, Content: content, Metadata: map[string]string{domain.MetaSource: source, domain.MetaPage: "2"}}
}

func TestRetrievalOnly_EmptyIndex(t *testing.T) {
	s := NewRetrievalOnly(fixedRetriever{}, nil)
	a := s.Answer(context.Background(), "anything")
	assert.True(t, a.Success)
	assert.Empty(t, a.Sources)
	assert.NotNil(t, a.Sources)
	assert.Contains(t, a.Text, "couldn't find any relevant information")
	assert.Equal(t, ModeRetrievalOnly, s.Mode())
}

func TestRetrievalOnly_FormatsSources(t *testing.T) {
	long := strings.Repeat("x", PreviewLength+20)
	chunks := []domain.Chunk{chunk("a.txt", "short content"), chunk("b.pdf", long)}
	a := NewRetrievalOnly(fixedRetriever{chunks: chunks}, nil).Answer(context.Background(), "q")

	require.True(t, a.Success)
	assert.Equal(t, chunks, a.Sources)
	assert.True(t, strings.HasPrefix(a.Text, "Based on your documents, here's what I found:\n\n**Source 1 (a.txt):**\nshort content\n\n---\n\n**Source 2 (b.pdf):**\n"))
	assert.Contains(t, a.Text, strings.Repeat("x", PreviewLength)+"...")
	assert.NotContains(t, a.Text, strings.Repeat("x", PreviewLength+1))
	assert.Contains(t, a.Text, "No answer was generated")
}

func TestRetrievalOnly_IndexError(t *testing.T) {
	a := NewRetrievalOnly(fixedRetriever{err: domain.ErrDimensionMismatch}, nil).Answer(context.Background(), "q")
	assert.False(t, a.Success)
	assert.Empty(t, a.Sources)
	assert.Contains(t, a.Text, "dimension mismatch")
}

func TestGenerative_Success(t *testing.T) {
	chunks := []domain.Chunk{chunk("a.txt", "first"), chunk("b.txt", "second")}
	gen := &recordingGenerator{out: "the answer"}
	s := NewGenerative(fixedRetriever{chunks: chunks}, gen, GenerativeOptions{Counter: generation.EstimatingCounter()})

	a := s.Answer(context.Background(), "what?")
	assert.True(t, a.Success)
	assert.Equal(t, "the answer", a.Text)
	assert.Equal(t, chunks, a.Sources)
	assert.Equal(t, ModeGenerative, a.Mode)
	assert.Contains(t, gen.prompt.User, "Context: first\n\nsecond\n\nQuestion: what?")
	assert.Contains(t, gen.prompt.User, "just say that you don't know")
	assert.NotEmpty(t, gen.prompt.System)
}

func TestGenerative_ContextBudget(t *testing.T) {
	chunks := []domain.Chunk{chunk("a.txt", strings.Repeat("a", 40)), chunk("b.txt", strings.Repeat("b", 40))}
	gen := &recordingGenerator{out: "ok"}
	s := NewGenerative(fixedRetriever{chunks: chunks}, gen, GenerativeOptions{MaxContextTokens: 5, Counter: generation.EstimatingCounter()})

	a := s.Answer(context.Background(), "q")
	require.True(t, a.Success)
	assert.Contains(t, gen.prompt.User, "Context: "+strings.Repeat("a", 20)+"\n\nQuestion: q")
	assert.Len(t, a.Sources, 2)
}

func TestGenerative_ProviderFailure(t *testing.T) {
	for _, err := range []error{domain.ErrAuthentication, domain.ErrNetwork, domain.ErrRateLimited, errors.New("weird")} {
		gen := &recordingGenerator{err: err}
		s := NewGenerative(fixedRetriever{chunks: []domain.Chunk{chunk("a.txt", "c")}}, gen, GenerativeOptions{Counter: generation.EstimatingCounter()})
		a := s.Answer(context.Background(), "q")
		assert.False(t, a.Success)
		assert.NotEmpty(t, a.Text)
		assert.Contains(t, a.Text, err.Error())
		assert.Empty(t, a.Sources)
	}

	s := NewGenerative(fixedRetriever{err: domain.ErrNetwork}, &recordingGenerator{}, GenerativeOptions{Counter: generation.EstimatingCounter()})
	a := s.Answer(context.Background(), "q")
	assert.False(t, a.Success)
	assert.Equal(t, ModeGenerative, s.Mode())
}

func TestAnswer_Previews(t *testing.T) {
	a := Answer{Sources: []domain.Chunk{chunk("a.pdf", "héllo world")}}
	p := a.Previews(5)
	require.Len(t, p, 1)
	assert.Equal(t, SourcePreview{Source: "a.pdf", Page: "2", Preview: "héllo..."}, p[0])
	assert.Equal(t, "héllo world", a.Previews(0)[0].Preview)
}
