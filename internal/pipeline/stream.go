package pipeline

import (
	"context"
	"fmt"
	"strings"

	"corpus/internal/domain"
	"corpus/internal/logger"
)

// Stream is an answer being generated. Tokens must be drained, or the stream
// closed, before Result returns.
type Stream struct {
	tokens chan string
	done   chan struct{}
	cancel context.CancelFunc

	sources []domain.Source
	resp    *domain.RAGResponse
	err     error
}

// Tokens yields answer tokens in order. The channel is unbuffered so the
// generator never runs ahead of the consumer, and it is closed when
// generation ends.
func (s *Stream) Tokens() <-chan string { return s.tokens }

// Sources returns the retrieved sources, known before the first token.
func (s *Stream) Sources() []domain.Source { return s.sources }

// Result waits for generation to end and returns the full response.
func (s *Stream) Result() (*domain.RAGResponse, error) {
	<-s.done
	return s.resp, s.err
}

// Close aborts generation and releases the stream. It is safe to call more
// than once and after the stream has ended.
func (s *Stream) Close() {
	s.cancel()
	for range s.tokens {
	}
	<-s.done
}

// QueryStream retrieves context like Query and then streams the answer.
// Retrieval errors are returned directly. When nothing matches, the stream
// yields NoResultsAnswer as its only token.
func (p *Pipeline) QueryStream(ctx context.Context, question string, opts ...QueryOption) (*Stream, error) {
	o := queryOptions(opts)
	sources, err := p.retrieve(ctx, question, o)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		tokens:  make(chan string),
		done:    make(chan struct{}),
		cancel:  cancel,
		sources: visible(sources, o),
	}

	send := func(token string) error {
		select {
		case s.tokens <- token:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(s.done)
		defer close(s.tokens)
		defer cancel()

		if len(sources) == 0 {
			if err := send(NoResultsAnswer); err != nil {
				s.err = err
				return
			}
			s.resp = noResults()
			return
		}

		block := p.buildContext(sources)
		var answer strings.Builder
		_, err := p.llm.Stream(ctx, p.chatRequest(question, block), func(token string) error {
			answer.WriteString(token)
			return send(token)
		})
		if err != nil {
			logger.Debug("stream %s: %v", p.Collection(), err)
			s.err = fmt.Errorf("generate answer: %w", err)
			return
		}
		s.resp = &domain.RAGResponse{Answer: answer.String(), Sources: s.sources, Context: block}
	}()

	return s, nil
}
