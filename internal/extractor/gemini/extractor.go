// Package gemini extracts clinic records from crawled site text with the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/clinic-scraper/internal/content"
	"github.com/JakeFAU/clinic-scraper/internal/crawler"
	"github.com/JakeFAU/clinic-scraper/internal/logging"
	"github.com/JakeFAU/clinic-scraper/internal/metrics"
)

// Extraction stages reported in crawler.ExtractionError.
const (
	StageInput   = "input"
	StageRequest = "request"
	StageEmpty   = "empty"
	StageDecode  = "decode"
)

var (
	// ErrEmptyInput is returned when there is no text to send to the model.
	ErrEmptyInput = errors.New("no text to extract from")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("model returned no text")

	fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```$")
)

// Generator is the slice of the genai Models service used here.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config tunes model calls.
type Config struct {
	Model         string
	Timeout       time.Duration
	MaxInputChars int
}

// Extractor implements crawler.Extractor on top of a Gemini model.
type Extractor struct {
	generator Generator
	cfg       Config
	logger    *zap.Logger
}

var _ crawler.Extractor = (*Extractor)(nil)

// New builds an Extractor around an existing generator.
func New(generator Generator, cfg Config, logger *zap.Logger) (*Extractor, error) {
	if generator == nil {
		return nil, errors.New("gemini: generator is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("gemini: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 500000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{generator: generator, cfg: cfg, logger: logger}, nil
}

// NewFromAPIKey creates a Gemini API client for apiKey and wraps it.
func NewFromAPIKey(ctx context.Context, apiKey string, cfg Config, logger *zap.Logger) (*Extractor, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return New(client.Models, cfg, logger)
}

// Extract sends text to the model in a single call and decodes its JSON answer.
// Failed calls are not retried.
func (e *Extractor) Extract(ctx context.Context, text string) (crawler.ClinicRecord, error) {
	start := time.Now()
	logger := logging.FromContext(ctx, e.logger)

	record, err := e.extract(ctx, text)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveExtraction(metrics.OutcomeExtract, duration)
		logger.Warn("extraction failed", zap.Error(err), zap.Duration("duration", duration))
		return crawler.ClinicRecord{}, err
	}

	metrics.ObserveExtraction(metrics.OutcomeSuccess, duration)
	logger.Info("extraction completed",
		zap.Duration("duration", duration),
		zap.Int("services", len(record.Services)),
	)
	return record, nil
}

func (e *Extractor) extract(ctx context.Context, text string) (crawler.ClinicRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return crawler.ClinicRecord{}, &crawler.ExtractionError{Stage: StageInput, Err: ErrEmptyInput}
	}
	text = content.TruncateRunes(text, e.cfg.MaxInputChars)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.generator.GenerateContent(callCtx, e.cfg.Model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		e.generateConfig(),
	)
	if err != nil {
		return crawler.ClinicRecord{}, &crawler.ExtractionError{Stage: StageRequest, Err: err}
	}

	raw := responseText(resp)
	if raw == "" {
		return crawler.ClinicRecord{}, &crawler.ExtractionError{Stage: StageEmpty, Err: describeEmpty(resp)}
	}

	record, err := decodeRecord(raw)
	if err != nil {
		return crawler.ClinicRecord{}, &crawler.ExtractionError{Stage: StageDecode, Err: err}
	}
	return record, nil
}

func (e *Extractor) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(Instructions(), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema(),
		ThinkingConfig:    &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)},
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	return strings.TrimSpace(resp.Text())
}

func describeEmpty(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return ErrEmptyResponse
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return fmt.Errorf("%w: prompt blocked (%s)", ErrEmptyResponse, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil && resp.Candidates[0].FinishReason != "" {
		return fmt.Errorf("%w: finish reason %s", ErrEmptyResponse, resp.Candidates[0].FinishReason)
	}
	return ErrEmptyResponse
}

// decodeRecord parses the model answer strictly. Unknown fields and trailing data are errors.
func decodeRecord(raw string) (crawler.ClinicRecord, error) {
	raw = stripFences(raw)
	if raw == "null" {
		return crawler.ClinicRecord{}, errors.New("decode record: model returned null")
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var record crawler.ClinicRecord
	if err := dec.Decode(&record); err != nil {
		return crawler.ClinicRecord{}, fmt.Errorf("decode record: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return crawler.ClinicRecord{}, errors.New("decode record: trailing data after JSON object")
	}
	return normalize(record), nil
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return raw
}

// normalize turns blank strings into nil and cleans list fields.
func normalize(r crawler.ClinicRecord) crawler.ClinicRecord {
	for _, field := range []**string{
		&r.Name, &r.Phone, &r.Address, &r.Email, &r.Hours,
		&r.City, &r.State, &r.PostalCode, &r.Website,
		&r.HolidayClosures, &r.Manager, &r.OperationsLead, &r.ServicesNotOffered,
	} {
		*field = blankToNil(*field)
	}

	r.Services = cleanList(r.Services)
	if len(r.Specialties) > 0 {
		r.Specialties = cleanList(r.Specialties)
	}

	if r.BusinessHours != nil && *r.BusinessHours == (crawler.BusinessHours{}) {
		r.BusinessHours = nil
	}

	people := r.Professionals[:0]
	for _, p := range r.Professionals {
		p.Name = strings.TrimSpace(p.Name)
		p.Role = strings.TrimSpace(p.Role)
		if p.Name == "" {
			continue
		}
		if p.IsAvailable == nil {
			p.IsAvailable = genai.Ptr(true)
		}
		people = append(people, p)
	}
	if len(people) == 0 {
		people = nil
	}
	r.Professionals = people
	return r
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		return nil
	}
	return &trimmed
}

// cleanList trims entries and drops blanks and duplicates, keeping first-seen order.
// The result is never nil so services always encode as a JSON array.
func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
