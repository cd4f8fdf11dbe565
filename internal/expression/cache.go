package expression

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/yyri/wecube-platform/internal/domain"
)

// Evaluator is the evaluation backend wrapped by CachingEvaluator.
type Evaluator interface {
	FetchData(ctx context.Context, criteria domain.ExpressionCriteria) ([]any, error)
}

// CachingEvaluator memoizes non-empty results per expression and root
// entity for a bounded time. Failures and empty results are never cached.
type CachingEvaluator struct {
	next  Evaluator
	cache *expirable.LRU[domain.ExpressionCriteria, []any]
}

func NewCachingEvaluator(next Evaluator, size int, ttl time.Duration) *CachingEvaluator {
	return &CachingEvaluator{
		next:  next,
		cache: expirable.NewLRU[domain.ExpressionCriteria, []any](size, nil, ttl),
	}
}

func (c *CachingEvaluator) FetchData(ctx context.Context, criteria domain.ExpressionCriteria) ([]any, error) {
	if values, ok := c.cache.Get(criteria); ok {
		return values, nil
	}

	values, err := c.next.FetchData(ctx, criteria)
	if err != nil || len(values) == 0 {
		return values, err
	}
	c.cache.Add(criteria, values)
	return values, nil
}

// Len returns the number of cached entries.
func (c *CachingEvaluator) Len() int {
	return c.cache.Len()
}
