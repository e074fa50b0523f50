// Package service ties loading, chunking, indexing and answering together
// for one collection.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docrag/internal/domain"
	"docrag/internal/loader"
	"docrag/internal/metrics"
	"docrag/internal/synthesizer"
	"docrag/internal/vectorstore"
)

// DefaultSummarySentences is used when Deps.SummarySentences is zero.
const DefaultSummarySentences = 5

// Deps are the components a Service is assembled from. Collection, Loader,
// Chunker and Synthesizer are required.
type Deps struct {
	Collection       *vectorstore.Collection
	Loader           *loader.FileLoader
	Chunker          domain.Chunker
	Synthesizer      synthesizer.Synthesizer
	Summarizer       domain.Summarizer
	SummarySentences int
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
}

// Service is the session state of one document QA run.
type Service struct {
	collection       *vectorstore.Collection
	loader           *loader.FileLoader
	chunker          domain.Chunker
	synth            synthesizer.Synthesizer
	summarizer       domain.Summarizer
	summarySentences int
	metrics          *metrics.Metrics
	logger           *slog.Logger
}

func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.SummarySentences <= 0 {
		d.SummarySentences = DefaultSummarySentences
	}
	return &Service{
		collection:       d.Collection,
		loader:           d.Loader,
		chunker:          d.Chunker,
		synth:            d.Synthesizer,
		summarizer:       d.Summarizer,
		summarySentences: d.SummarySentences,
		metrics:          d.Metrics,
		logger:           d.Logger,
	}
}

// IngestReport describes one ProcessDocuments call.
type IngestReport struct {
	Files     int
	Documents int
	Chunks    int
	Summary   string
	Failed    []*domain.FileError
}

// ProcessDocuments loads every path (file, directory or glob), chunks the
// documents and indexes them in one Add. Files that cannot be read are
// listed in the report and do not stop the others. When nothing could be
// loaded the error wraps ErrEmptyInput and names the failures.
func (s *Service) ProcessDocuments(ctx context.Context, paths []string) (IngestReport, error) {
	if len(paths) == 0 {
		return IngestReport{}, fmt.Errorf("%w: no paths given", domain.ErrEmptyInput)
	}
	docs, failed := s.loader.LoadPaths(paths)
	report := IngestReport{Documents: len(docs), Failed: failed}

	sources := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		sources[d.Source()] = struct{}{}
	}
	report.Files = len(sources)
	skipped := 0
	for _, f := range failed {
		if loader.IsIngestError(f.Err) {
			skipped++
		}
	}
	s.metrics.RecordDocuments(report.Files, skipped, len(failed)-skipped)

	if len(docs) == 0 {
		if len(failed) == 0 {
			return report, fmt.Errorf("%w: no supported files in %s", domain.ErrEmptyInput, strings.Join(paths, ", "))
		}
		errs := make([]error, len(failed))
		for i, f := range failed {
			errs[i] = f
		}
		return report, fmt.Errorf("%w: no documents loaded: %w", domain.ErrEmptyInput, errors.Join(errs...))
	}

	chunks, err := s.chunker.SplitMany(docs)
	if err != nil {
		return report, err
	}
	report.Chunks = len(chunks)
	if err := s.collection.Add(ctx, chunks); err != nil {
		return report, err
	}
	s.metrics.RecordChunks(len(chunks))

	if s.summarizer != nil {
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.Content
		}
		summary, err := s.summarizer.Summarize(strings.Join(texts, "\n"), s.summarySentences)
		if err != nil {
			s.logger.Warn("summary failed", "error", err)
		}
		report.Summary = summary
	}
	s.logger.Info("processed documents",
		"files", report.Files, "documents", report.Documents, "chunks", report.Chunks, "failed", len(failed))
	return report, nil
}

// Query answers a question. Answer failures are reported in the Answer;
// the error is only set when the question cannot be asked at all.
func (s *Service) Query(ctx context.Context, question string) (synthesizer.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return synthesizer.Answer{}, fmt.Errorf("%w: empty question", domain.ErrEmptyInput)
	}
	if s.synth.Mode() == synthesizer.ModeGenerative {
		n, err := s.collection.Count(ctx)
		if err != nil {
			return synthesizer.Answer{}, err
		}
		if n == 0 {
			return synthesizer.Answer{}, fmt.Errorf("%w: no documents indexed", domain.ErrConfiguration)
		}
	}
	start := time.Now()
	answer := s.synth.Answer(ctx, question)
	s.metrics.RecordQuery(string(answer.Mode), answer.Success, time.Since(start))
	s.logger.Debug("answered question", "mode", answer.Mode, "success", answer.Success, "sources", len(answer.Sources))
	return answer, nil
}

// Reset deletes every indexed chunk. The service stays usable.
func (s *Service) Reset(ctx context.Context) error {
	return s.collection.DeleteCollection(ctx)
}

// Status is a snapshot of the session.
type Status struct {
	Collection string
	Entries    int
	Mode       synthesizer.Mode
	Degraded   bool
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	n, err := s.collection.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Collection: s.collection.Name(),
		Entries:    n,
		Mode:       s.synth.Mode(),
		Degraded:   s.collection.Degraded(),
	}, nil
}

func (s *Service) Close() error {
	return s.collection.Close()
}
