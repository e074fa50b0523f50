package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"docrag/internal/service"
	"docrag/internal/synthesizer"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate returns one message per failed field, keyed by the JSON field name.
func Validate(v any) map[string]string {
	errs := map[string]string{}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			errs["request"] = err.Error()
			return errs
		}
		for _, e := range verrs {
			errs[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
	}
	return errs
}

type IngestRequest struct {
	Paths []string `json:"paths" validate:"required,min=1,dive,required"`
}

type QueryRequest struct {
	Question string `json:"question" validate:"required,max=4096"`
}

type FailedFile struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type IngestResponse struct {
	Files     int          `json:"files"`
	Documents int          `json:"documents"`
	Chunks    int          `json:"chunks"`
	Summary   string       `json:"summary"`
	Failed    []FailedFile `json:"failed"`
}

func newIngestResponse(r service.IngestReport) IngestResponse {
	failed := make([]FailedFile, len(r.Failed))
	for i, f := range r.Failed {
		failed[i] = FailedFile{Path: f.Path, Error: f.Err.Error()}
	}
	return IngestResponse{Files: r.Files, Documents: r.Documents, Chunks: r.Chunks, Summary: r.Summary, Failed: failed}
}

type Source struct {
	Source  string `json:"source"`
	Page    string `json:"page,omitempty"`
	Preview string `json:"preview"`
}

type QueryResponse struct {
	Answer  string   `json:"answer"`
	Success bool     `json:"success"`
	Mode    string   `json:"mode"`
	Sources []Source `json:"sources"`
}

// SourcePreviewLength is the number of characters returned per source.
const SourcePreviewLength = 300

func newQueryResponse(a synthesizer.Answer) QueryResponse {
	previews := a.Previews(SourcePreviewLength)
	sources := make([]Source, len(previews))
	for i, p := range previews {
		sources[i] = Source{Source: p.Source, Page: p.Page, Preview: p.Preview}
	}
	return QueryResponse{Answer: a.Text, Success: a.Success, Mode: string(a.Mode), Sources: sources}
}

type StatusResponse struct {
	Collection string `json:"collection"`
	Entries    int    `json:"entries"`
	Mode       string `json:"mode"`
	Degraded   bool   `json:"degraded"`
}
