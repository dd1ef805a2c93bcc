// Package embedding holds the batching shared by the embedding adapters.
package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"corpus/internal/domain"
)

// BatchFunc embeds one batch and returns one vector per input, in input order.
type BatchFunc func(ctx context.Context, batch []string) ([][]float32, error)

// InBatches splits texts into batches of at most size inputs, embeds up to
// concurrency batches at a time and returns the vectors in input order.
// A batch that comes back short or with an empty vector fails the whole call
// with domain.ErrMissingEmbedding.
func InBatches(ctx context.Context, texts []string, size, concurrency int, embed BatchFunc) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	if size <= 0 {
		size = len(texts)
	}

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		g.Go(func() error {
			vectors, err := embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vectors) != end-start {
				return fmt.Errorf("%w: got %d vectors for %d inputs", domain.ErrMissingEmbedding, len(vectors), end-start)
			}
			for i, v := range vectors {
				if len(v) == 0 {
					return fmt.Errorf("%w: input %d", domain.ErrMissingEmbedding, start+i)
				}
				out[start+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
