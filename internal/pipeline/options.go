package pipeline

import "corpus/internal/domain"

// QueryOption tunes a single query.
type QueryOption func(*domain.QueryOptions)

// WithTopK sets the maximum number of retrieved chunks.
func WithTopK(k int) QueryOption {
	return func(o *domain.QueryOptions) {
		if k > 0 {
			o.TopK = k
		}
	}
}

// WithScoreThreshold sets the minimum similarity of retrieved chunks. Zero
// keeps every non-negative match; a negative value admits opposed chunks too.
func WithScoreThreshold(t float64) QueryOption {
	return func(o *domain.QueryOptions) { o.ScoreThreshold = t }
}

// WithFilter restricts retrieval to points whose payload matches f.
func WithFilter(f domain.Filter) QueryOption {
	return func(o *domain.QueryOptions) { o.Filter = &f }
}

// WithoutSources leaves the sources out of the response.
func WithoutSources() QueryOption {
	return func(o *domain.QueryOptions) { o.IncludeSources = false }
}

// WithSources puts the sources in the response, undoing WithoutSources.
func WithSources() QueryOption {
	return func(o *domain.QueryOptions) { o.IncludeSources = true }
}

// WithOptions replaces all query options at once.
func WithOptions(opts domain.QueryOptions) QueryOption {
	return func(o *domain.QueryOptions) {
		*o = opts
		if o.TopK <= 0 {
			o.TopK = DefaultTopK
		}
	}
}

func queryOptions(opts []QueryOption) domain.QueryOptions {
	o := domain.QueryOptions{
		TopK:           DefaultTopK,
		ScoreThreshold: DefaultScoreThreshold,
		IncludeSources: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
