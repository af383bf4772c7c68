// Package translation caches batch translations per language pair.
package translation

import (
	"context"
	"strings"
	"sync"

	"github.com/GriffinCanCode/live-translator/backend/platform/internal/cache"
	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
)

// Backend translates texts. The result has the same length and order as texts.
type Backend interface {
	TranslateBatch(ctx context.Context, texts []string, pair Pair) ([]string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, texts []string, pair Pair) ([]string, error)

// TranslateBatch implements Backend.
func (f BackendFunc) TranslateBatch(ctx context.Context, texts []string, pair Pair) ([]string, error) {
	return f(ctx, texts, pair)
}

// Translation is the result of translating one text.
type Translation struct {
	Text   string `json:"text"`
	Cached bool   `json:"cached"`
}

type cacheKey struct {
	source, target, text string
}

// Translator is a cache-backed facade over a Backend for the current pair.
type Translator struct {
	backend   Backend
	supported *Supported
	cache     *cache.EvictionCache[cacheKey, string]

	mu   sync.RWMutex
	pair Pair
}

// NewTranslator validates src->tgt against supported (DefaultPairs when nil).
func NewTranslator(backend Backend, supported *Supported, src, tgt string, capacity int) (*Translator, error) {
	if backend == nil {
		return nil, apperrors.New(apperrors.InvalidConfiguration, "translation backend is required")
	}
	if supported == nil {
		supported = DefaultSupported()
	}
	pair, err := supported.Parse(src, tgt)
	if err != nil {
		return nil, err
	}
	c, err := cache.New[cacheKey, string](capacity)
	if err != nil {
		return nil, err
	}
	return &Translator{backend: backend, supported: supported, cache: c, pair: pair}, nil
}

// Pair returns the current language pair.
func (t *Translator) Pair() Pair {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pair
}

// SetPair switches languages. An unsupported pair leaves the current one in place.
// Cached entries for other pairs stay valid since the pair is part of the key.
func (t *Translator) SetPair(src, tgt string) (Pair, error) {
	pair, err := t.supported.Parse(src, tgt)
	if err != nil {
		return t.Pair(), err
	}
	t.mu.Lock()
	t.pair = pair
	t.mu.Unlock()
	return pair, nil
}

// Translate translates a single text.
func (t *Translator) Translate(ctx context.Context, text string) (Translation, error) {
	if isBlank(text) {
		return Translation{Text: text}, nil
	}
	pair := t.Pair()
	key := cacheKey{pair.Source, pair.Target, text}
	if v, ok := t.cache.Get(key); ok {
		return Translation{Text: v, Cached: true}, nil
	}
	out, err := t.call(ctx, []string{text}, pair)
	if err != nil {
		return Translation{}, err
	}
	t.cache.Put(key, out[0])
	return Translation{Text: out[0]}, nil
}

// TranslateBatch translates texts in order. Blank texts are echoed back untouched.
// Cache misses go to the backend in a single call.
func (t *Translator) TranslateBatch(ctx context.Context, texts []string) ([]string, error) {
	pair := t.Pair()
	out := make([]string, len(texts))

	var (
		missIdx   []int
		missTexts []string
	)
	for i, text := range texts {
		if isBlank(text) {
			out[i] = text
			continue
		}
		if v, ok := t.cache.Get(cacheKey{pair.Source, pair.Target, text}); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	translated, err := t.call(ctx, missTexts, pair)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = translated[j]
		t.cache.Put(cacheKey{pair.Source, pair.Target, missTexts[j]}, translated[j])
	}
	return out, nil
}

func (t *Translator) call(ctx context.Context, texts []string, pair Pair) ([]string, error) {
	out, err := t.backend.TranslateBatch(ctx, texts, pair)
	if err != nil {
		if apperrors.IsCode(err, apperrors.TranslationFailure) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.TranslationFailure, "translate batch").
			WithMetadata("pair", pair.String())
	}
	if len(out) != len(texts) {
		return nil, apperrors.Newf(apperrors.TranslationFailure,
			"backend returned %d translations for %d texts", len(out), len(texts)).
			WithMetadata("pair", pair.String())
	}
	return out, nil
}

// Stats returns cache statistics.
func (t *Translator) Stats() cache.Stats { return t.cache.Stats() }

// Clear empties the cache.
func (t *Translator) Clear() { t.cache.Clear() }

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
