package search

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/routewise-ai/routewise/internal/config"
	"github.com/routewise-ai/routewise/internal/metrics"
)

// Fetcher fetches full page text for a document URL.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// Options controls one retrieval run.
type Options struct {
	// MaxPerQuery caps results per provider query.
	MaxPerQuery int
	// FetchTop is how many top-ranked documents get a full page fetch.
	FetchTop int
	// FetchTimeout bounds each individual page fetch.
	FetchTimeout time.Duration
	// Stop is consulted between queries and between fetches; when it returns
	// true the run returns whatever it has so far.
	Stop func() bool
	// AllowFetch gates the content-fetch phase separately from search.
	AllowFetch func() bool
}

// Aggregator turns a query plan into a deduplicated, reranked document set.
// It never fails a run outright: provider errors cost coverage, not answers.
type Aggregator struct {
	providers []Provider
	mode      string
	cache     Cache
	fetcher   Fetcher
	limiter   *rate.Limiter
	weights   func() config.RerankWeights
	logger    *zap.Logger
}

// NewAggregator builds an aggregator. Every provider is queried for every
// planned query; fetchDelay spaces page fetches for politeness.
func NewAggregator(providers []Provider, cache Cache, fetcher Fetcher,
	fetchDelay time.Duration, weights func() config.RerankWeights, logger *zap.Logger) *Aggregator {
	limit := rate.Inf
	if fetchDelay > 0 {
		limit = rate.Every(fetchDelay)
	}
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	return &Aggregator{
		providers: providers,
		mode:      strings.Join(names, "+"),
		cache:     cache,
		fetcher:   fetcher,
		limiter:   rate.NewLimiter(limit, 1),
		weights:   weights,
		logger:    logger,
	}
}

// Run executes the query plan and returns reranked documents with content on
// the top-ranked entries. Raw provider results are cached per query.
func (a *Aggregator) Run(ctx context.Context, queries []string, opts Options) []Document {
	if len(queries) == 0 {
		return nil
	}
	if opts.Stop == nil {
		opts.Stop = func() bool { return false }
	}
	if opts.AllowFetch == nil {
		opts.AllowFetch = func() bool { return true }
	}

	seen := make(map[string]bool)
	var docs []Document
	for i, q := range queries {
		if opts.Stop() {
			a.logger.Info("Retrieval stopped early on budget",
				zap.Int("queries_run", i), zap.Int("queries_total", len(queries)))
			break
		}
		for _, d := range a.results(ctx, q, opts.MaxPerQuery) {
			if d.URL == "" || seen[d.URL] {
				continue
			}
			seen[d.URL] = true
			docs = append(docs, d)
		}
	}
	metrics.DocumentsCollected.Observe(float64(len(docs)))

	Rerank(docs, a.weights())
	a.fetchContent(ctx, docs, opts)
	return docs
}

// results serves one query from the cache when possible, searching live and
// caching otherwise. The key covers the provider set, so a config change
// never serves entries collected under a different one.
func (a *Aggregator) results(ctx context.Context, query string, maxResults int) []Document {
	key := CacheKey(a.mode, query)
	if a.cache != nil {
		if docs, ok := a.cache.Get(ctx, key); ok {
			a.logger.Debug("Query served from cache",
				zap.String("query", query), zap.Int("documents", len(docs)))
			return docs
		}
	}
	docs := a.searchOne(ctx, query, maxResults)
	if a.cache != nil && len(docs) > 0 {
		a.cache.Put(ctx, key, docs)
	}
	return docs
}

// searchOne queries every provider and merges their results. A too-long query
// is compressed and retried once on the same provider; a failing provider
// costs its own results, never the query.
func (a *Aggregator) searchOne(ctx context.Context, query string, maxResults int) []Document {
	var merged []Document
	for _, p := range a.providers {
		docs, err := p.Search(ctx, query, maxResults)
		if errors.Is(err, ErrQueryTooLong) {
			compressed := CompressQuery(query)
			if compressed != query {
				docs, err = p.Search(ctx, compressed, maxResults)
			}
		}
		if err != nil {
			a.logger.Warn("Provider query failed",
				zap.String("provider", p.Name()), zap.Error(err))
			continue
		}
		merged = append(merged, docs...)
	}
	return merged
}

// fetchContent fills Content on the top-ranked documents that lack it.
func (a *Aggregator) fetchContent(ctx context.Context, docs []Document, opts Options) {
	if a.fetcher == nil || opts.FetchTop <= 0 || !opts.AllowFetch() {
		return
	}
	fetched := 0
	for i := range docs {
		if fetched >= opts.FetchTop {
			break
		}
		if opts.Stop() || !opts.AllowFetch() {
			break
		}
		if docs[i].Content != "" {
			fetched++
			continue
		}
		if err := a.limiter.Wait(ctx); err != nil {
			break
		}
		fetchCtx := ctx
		var cancel context.CancelFunc
		if opts.FetchTimeout > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, opts.FetchTimeout)
		}
		text, err := a.fetcher.Fetch(fetchCtx, docs[i].URL)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			metrics.ContentFetchFailures.Inc()
			a.logger.Debug("Content fetch failed, keeping snippet",
				zap.String("url", docs[i].URL), zap.Error(err))
			continue
		}
		docs[i].Content = text
		fetched++
	}
}
