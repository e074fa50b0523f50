// Package hashing implements an in-process embedding model. Terms and term
// bigrams are hashed into a fixed number of buckets and weighted by term
// frequency times an optional IDF table trained from a corpus.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"docrag/internal/domain"
)

const DefaultDimension = 384

// Config configures the hashing embedder.
type Config struct {
	Dimension int
	// ModelPath points at an IDF table written by Model.Save. Empty means
	// every term weighs 1.
	ModelPath string
}

// Model is a trained IDF table.
type Model struct {
	DefaultWeight float64            `yaml:"default_weight"`
	Weights       map[string]float64 `yaml:"weights"`
}

// Embedder implements embedding.Provider without any network access.
type Embedder struct {
	dimension int
	modelPath string

	once    sync.Once
	model   *Model
	loadErr error
}

func New(cfg Config) *Embedder {
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	return &Embedder{dimension: cfg.Dimension, modelPath: cfg.ModelPath}
}

func (e *Embedder) Name() string { return "hashing" }

func (e *Embedder) Dimension() int { return e.dimension }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m, err := e.load()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, domain.TransportError(ctx, "hashing embed", err)
		}
		out[i] = e.vectorize(m, t)
	}
	return out, nil
}

func (e *Embedder) load() (*Model, error) {
	e.once.Do(func() {
		if e.modelPath == "" {
			e.model = &Model{DefaultWeight: 1}
			return
		}
		e.model, e.loadErr = LoadModel(e.modelPath)
	})
	return e.model, e.loadErr
}

func (e *Embedder) vectorize(m *Model, text string) []float32 {
	vec := make([]float64, e.dimension)
	terms := Terms(text)
	if len(terms) == 0 {
		return make([]float32, e.dimension)
	}
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	total := float64(len(terms))
	for term, count := range tf {
		idx, sign := bucket(term, e.dimension)
		vec[idx] += sign * (float64(count) / total) * m.weight(term)
	}
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, e.dimension)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func bucket(term string, dimension int) (int, float64) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	sum := h.Sum32()
	sign := 1.0
	if sum&(1<<31) != 0 {
		sign = -1.0
	}
	return int(sum&0x7fffffff) % dimension, sign
}

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

// Terms returns the lower-cased non-stopword tokens of text followed by
// their adjacent bigrams.
func Terms(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, t := range raw {
		if _, isStop := stopwords[t]; isStop {
			continue
		}
		tokens = append(tokens, t)
	}
	if len(tokens) == 0 {
		return nil
	}
	terms := make([]string, 0, 2*len(tokens)-1)
	terms = append(terms, tokens...)
	for i := 1; i < len(tokens); i++ {
		terms = append(terms, tokens[i-1]+" "+tokens[i])
	}
	return terms
}

func (m *Model) weight(term string) float64 {
	if w, ok := m.Weights[term]; ok {
		return w
	}
	return m.DefaultWeight
}

// Train computes smoothed IDF weights for every term of the corpus.
func Train(corpus []string) (*Model, error) {
	if len(corpus) == 0 {
		return nil, fmt.Errorf("%w: empty corpus", domain.ErrEmptyInput)
	}
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, term := range Terms(text) {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}
	if len(df) == 0 {
		return nil, fmt.Errorf("%w: no tokens found in corpus", domain.ErrEmptyContent)
	}
	n := float64(len(corpus))
	m := &Model{
		// weight of a term seen in no document
		DefaultWeight: math.Log(1+n) + 1.0,
		Weights:       make(map[string]float64, len(df)),
	}
	for term, count := range df {
		m.Weights[term] = math.Log((1+n)/(1+float64(count))) + 1.0
	}
	return m, nil
}

// LoadModel reads a model file. Any failure is reported as ErrModelLoad.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrModelLoad, path, err)
	}
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrModelLoad, path, err)
	}
	if m.DefaultWeight <= 0 && len(m.Weights) == 0 {
		return nil, fmt.Errorf("%w: %s holds no weights", domain.ErrModelLoad, path)
	}
	if m.DefaultWeight <= 0 {
		m.DefaultWeight = 1
	}
	return &m, nil
}

// Save writes the model as YAML. Terms are emitted in sorted order.
func (m *Model) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
