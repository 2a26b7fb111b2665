package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sheetgen/internal/cache"
	"sheetgen/internal/imagestore"
	"sheetgen/internal/provider"
)

// exhaustedSentinel is the phrase models emit when a request asks for
// content past what exists. A reply leading with it is an error, not a
// value.
const exhaustedSentinel = "no more items"

// unitGenerator produces one cell's value: cache check, provider call on
// miss, cache write on success. State transitions per cell are strictly
// sequential: CacheCheck before Calling before Done.
type unitGenerator struct {
	cache  *cache.Cache
	client provider.Client
	ttl    time.Duration
}

type unitRequest struct {
	prompt   string
	cacheKey string
	cfg      provider.ModelConfig
	stream   bool
}

type unitResult struct {
	value     string
	fromCache bool
}

// run executes one cell generation. emitPartial receives the accumulated
// text after each streamed delta; it is never called for cache hits or
// non-streaming calls. The accumulation buffer is local to this call and
// unreachable once run returns.
func (g *unitGenerator) run(ctx context.Context, req unitRequest, emitPartial func(accumulated string)) (unitResult, error) {
	if g.cache != nil {
		if v, ok := g.cache.Get(req.cacheKey); ok {
			return unitResult{value: v, fromCache: true}, nil
		}
	}

	var (
		text string
		err  error
	)
	if req.stream && emitPartial != nil {
		var acc strings.Builder
		text, err = g.client.CompleteStream(ctx, req.prompt, req.cfg, func(delta string) {
			acc.WriteString(delta)
			emitPartial(acc.String())
		})
	} else {
		text, err = g.client.Complete(ctx, req.prompt, req.cfg)
	}
	if err != nil {
		return unitResult{}, err
	}

	if isExhausted(text) {
		return unitResult{}, &provider.Error{
			Kind: provider.KindContentExhausted,
			Err:  fmt.Errorf("model signaled end of content"),
		}
	}

	if g.cache != nil {
		g.cache.Set(req.cacheKey, text, g.ttl)
	}
	return unitResult{value: text}, nil
}

// runImage is the image-output variant: the provider returns raw bytes,
// the object store keeps them, and the cell value (and cache entry) is
// the object key rather than the content.
func (g *unitGenerator) runImage(ctx context.Context, req unitRequest, store imagestore.Store, columnID string, rowIndex int) (unitResult, error) {
	if g.cache != nil {
		if v, ok := g.cache.Get(req.cacheKey); ok {
			return unitResult{value: v, fromCache: true}, nil
		}
	}
	if store == nil {
		return unitResult{}, &provider.Error{
			Kind: provider.KindPermanent,
			Err:  fmt.Errorf("image output requested but no image store is configured"),
		}
	}

	content, err := g.client.GenerateImage(ctx, req.prompt, req.cfg)
	if err != nil {
		return unitResult{}, err
	}
	key, err := store.Put(ctx, columnID, rowIndex, content)
	if err != nil {
		return unitResult{}, fmt.Errorf("store image: %w", err)
	}

	if g.cache != nil {
		g.cache.Set(req.cacheKey, key, g.ttl)
	}
	return unitResult{value: key}, nil
}

func isExhausted(text string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), exhaustedSentinel)
}
