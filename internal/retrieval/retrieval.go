package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/cinequery/cinequery/internal/catalog"
	"github.com/cinequery/cinequery/internal/movies"
	"github.com/cinequery/cinequery/internal/observability"
)

type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

type Retriever struct {
	encoder  Encoder
	searcher catalog.SimilaritySearcher
}

func NewRetriever(encoder Encoder, searcher catalog.SimilaritySearcher) (*Retriever, error) {
	if encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("similarity searcher is required")
	}
	return &Retriever{encoder: encoder, searcher: searcher}, nil
}

func (r *Retriever) RetrieveBySimilarity(ctx context.Context, question string, k int) (result movies.ResultSet, err error) {
	start := time.Now()
	defer func() {
		observability.ObserveStage("similarity", time.Since(start))
		observability.ObserveSimilaritySearch(err)
	}()

	vector, err := r.encoder.Encode(ctx, question)
	if err != nil {
		return movies.ResultSet{}, fmt.Errorf("encode question: %w", err)
	}
	result, err = r.searcher.Similar(ctx, vector, k)
	if err != nil {
		return movies.ResultSet{}, err
	}
	observability.ObserveResultRows(result.Len())
	return result, nil
}
