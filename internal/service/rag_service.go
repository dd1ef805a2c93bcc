// Package service answers tenant questions over their indexed documents and
// applies the tenant's behavior rules to the answers.
package service

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"corpus/internal/domain"
	"corpus/internal/logger"
	"corpus/internal/pipeline"
	"corpus/internal/rules"
)

// FallbackAnswer replaces an answer that could not be generated.
const FallbackAnswer = "I'm sorry, I couldn't process your question. Please try again."

const excerptLength = 200

// Profile is the assistant configuration of a tenant.
type Profile struct {
	Assistant rules.Assistant
	// Rules override the service rules when set.
	Rules *rules.Rules
	LLM   pipeline.LLMConfig
}

// ProfileLookup returns the profile of a tenant and whether one exists.
type ProfileLookup func(ctx context.Context, tenantID string) (Profile, bool, error)

// Option configures a Service.
type Option func(*Service)

// WithRules sets the rules applied to tenants without their own.
func WithRules(r rules.Rules) Option {
	return func(s *Service) { s.rules = r }
}

// WithProfiles sets the tenant profile lookup.
func WithProfiles(lookup ProfileLookup) Option {
	return func(s *Service) { s.profiles = lookup }
}

// WithStructuredContext renders retrieved chunks as numbered, scored source blocks.
func WithStructuredContext() Option {
	return func(s *Service) { s.structured = true }
}

// Service is safe for concurrent use.
type Service struct {
	factory    *pipeline.Factory
	rules      rules.Rules
	profiles   ProfileLookup
	structured bool
}

// NewRAGService creates a service over factory.
func NewRAGService(factory *pipeline.Factory, opts ...Option) *Service {
	s := &Service{factory: factory, rules: rules.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SourceRef is a source as shown to users.
type SourceRef struct {
	ChunkID        string
	DocumentSource string
	Score          float64
	Excerpt        string
}

// Answer is a graded answer.
type Answer struct {
	Text       string
	Sources    []SourceRef
	Confidence rules.Confidence
	// Warnings come from response validation and never block delivery.
	Warnings []string
	Latency  time.Duration
}

func fallback() *Answer {
	return &Answer{Text: FallbackAnswer, Sources: []SourceRef{}, Confidence: rules.ConfidenceLow}
}

// EventType tags a stream event.
type EventType string

// Stream event types. A stream is zero or more tokens followed by sources and
// done, or it ends with a single error.
const (
	EventToken   EventType = "token"
	EventSources EventType = "sources"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one step of a streamed answer.
type Event struct {
	Type    EventType
	Token   string
	Sources []SourceRef
	// Answer is set on done, and on error where it holds the fallback answer.
	Answer *Answer
	Err    error
}

// IndexDocument indexes one document into the tenant collection.
func (s *Service) IndexDocument(ctx context.Context, tenantID string, doc domain.Document) (*domain.IndexResult, error) {
	logger.Info("indexing document %s for tenant %s", doc.ID, tenantID)
	p, err := s.factory.ForTenant(ctx, tenantID, pipeline.LLMConfig{})
	if err != nil {
		return nil, err
	}
	res, err := p.Index(ctx, []domain.Document{doc})
	if err != nil {
		return nil, err
	}
	logger.Info("indexed document %s: %d chunk(s) created", doc.ID, res.ChunksCreated)
	return res, nil
}

// Query answers a question and grades the answer.
func (s *Service) Query(ctx context.Context, tenantID, question string, opts ...pipeline.QueryOption) (*Answer, error) {
	start := time.Now()
	logger.Info("query for tenant %s: %q", tenantID, preview(question))
	p, r, err := s.pipelineFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	opts, show := retrieveSources(opts)
	resp, err := p.Query(ctx, question, opts...)
	if err != nil {
		return nil, err
	}
	answer := grade(resp, r, show, time.Since(start))
	logger.Info("query response: %d source(s), confidence %s", len(answer.Sources), answer.Confidence)
	return answer, nil
}

// QueryStream answers a question as a stream of events. The channel is closed
// after the last event. Tokens are the raw generated text, while the done
// answer may also carry the uncertainty prefix. Cancel ctx to stop early.
func (s *Service) QueryStream(ctx context.Context, tenantID, question string, opts ...pipeline.QueryOption) <-chan Event {
	events := make(chan Event)
	emit := func(e Event) bool {
		select {
		case events <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		logger.Error("stream for tenant %s failed: %v", tenantID, err)
		emit(Event{Type: EventError, Err: err, Answer: fallback()})
	}

	go func() {
		defer close(events)
		start := time.Now()
		logger.Info("query stream for tenant %s: %q", tenantID, preview(question))

		p, r, err := s.pipelineFor(ctx, tenantID)
		if err != nil {
			fail(err)
			return
		}
		opts, show := retrieveSources(opts)
		stream, err := p.QueryStream(ctx, question, opts...)
		if err != nil {
			fail(err)
			return
		}
		defer stream.Close()

		for tok := range stream.Tokens() {
			if !emit(Event{Type: EventToken, Token: tok}) {
				return
			}
		}
		resp, err := stream.Result()
		if err != nil {
			fail(err)
			return
		}
		answer := grade(resp, r, show, time.Since(start))
		if !emit(Event{Type: EventSources, Sources: answer.Sources}) {
			return
		}
		emit(Event{Type: EventDone, Answer: answer})
		logger.Info("query stream complete: %d source(s), %s", len(answer.Sources), answer.Latency.Round(time.Millisecond))
	}()
	return events
}

// DeleteDocumentVectors removes the vectors of the given documents. A
// *domain.DeleteError names the documents that must be retried.
func (s *Service) DeleteDocumentVectors(ctx context.Context, tenantID string, documentIDs ...string) error {
	logger.Info("deleting vectors of %d document(s) for tenant %s", len(documentIDs), tenantID)
	p, err := s.factory.ForTenant(ctx, tenantID, pipeline.LLMConfig{})
	if err != nil {
		return err
	}
	return p.DeleteDocuments(ctx, documentIDs)
}

// DeleteTenant drops the tenant collection. Failures are logged, not returned.
func (s *Service) DeleteTenant(ctx context.Context, tenantID string) {
	logger.Info("deleting collection of tenant %s", tenantID)
	store, err := s.factory.VectorStoreForTenant(tenantID)
	if err != nil {
		logger.Warn("could not open collection of tenant %s: %v", tenantID, err)
		return
	}
	if err := store.DeleteCollection(ctx); err != nil {
		logger.Warn("could not delete collection of tenant %s: %v", tenantID, err)
		return
	}
	logger.Info("collection %s deleted", store.CollectionName())
}

func (s *Service) pipelineFor(ctx context.Context, tenantID string) (*pipeline.Pipeline, rules.Rules, error) {
	r := s.rules
	var overrides pipeline.LLMConfig
	if s.profiles != nil {
		profile, ok, err := s.profiles(ctx, tenantID)
		if err != nil {
			return nil, r, err
		}
		if ok {
			if profile.Rules != nil {
				r = *profile.Rules
			}
			overrides = profile.LLM
			if overrides.SystemPrompt == "" && profile.Assistant.Name != "" {
				overrides.SystemPrompt = rules.BuildSystemPrompt(profile.Assistant, r)
			}
		}
	}

	var opts []pipeline.Option
	if s.structured {
		opts = append(opts, pipeline.WithContextBuilder(structuredContext))
	}
	p, err := s.factory.ForTenant(ctx, tenantID, overrides, opts...)
	if err != nil {
		return nil, r, err
	}
	return p, r, nil
}

func structuredContext(sources []domain.Source) string {
	chunks := make([]rules.ChunkContext, len(sources))
	for i, src := range sources {
		chunks[i] = rules.ChunkContext{Content: src.Text, DocumentName: src.DocumentSource, RelevanceScore: src.Score}
	}
	return rules.BuildContextSection(chunks)
}

// retrieveSources makes the pipeline return every retrieved source so the
// answer can be graded, and reports whether the caller wants them shown.
func retrieveSources(opts []pipeline.QueryOption) ([]pipeline.QueryOption, bool) {
	o := domain.QueryOptions{IncludeSources: true}
	for _, opt := range opts {
		opt(&o)
	}
	return append(opts[:len(opts):len(opts)], pipeline.WithSources()), o.IncludeSources
}

// grade computes confidence and validation warnings from the retrieved
// sources. The uncertainty prefix is only added to answers backed by sources.
// When show is false the sources are graded but left out of the answer.
func grade(resp *domain.RAGResponse, r rules.Rules, show bool, latency time.Duration) *Answer {
	scores := make([]float64, len(resp.Sources))
	refs := make([]SourceRef, len(resp.Sources))
	for i, src := range resp.Sources {
		scores[i] = src.Score
		refs[i] = SourceRef{
			ChunkID:        src.ChunkID,
			DocumentSource: src.DocumentSource,
			Score:          src.Score,
			Excerpt:        truncate(src.Text, excerptLength),
		}
	}
	confidence := rules.DetermineConfidence(scores, r)
	text := resp.Answer
	if len(scores) > 0 {
		text = rules.AddUncertaintyPrefixIfNeeded(text, confidence, r)
	}
	v := rules.ValidateResponse(text, scores, r)
	for _, w := range v.Warnings {
		logger.Debug("answer warning: %s", w)
	}
	if !show {
		refs = []SourceRef{}
	}
	return &Answer{Text: text, Sources: refs, Confidence: confidence, Warnings: v.Warnings, Latency: latency}
}

// Canceled reports whether err is a caller cancellation rather than a failure.
func Canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func preview(q string) string { return truncate(q, 50) }
