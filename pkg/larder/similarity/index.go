// Package similarity resolves free-text ingredient names to canonical
// entities by fuzzy string matching against everything stored so far.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/cognicore/larder/pkg/larder/internalerr"
	"github.com/cognicore/larder/pkg/larder/recipe"
)

// DefaultThreshold is the minimum score at which a known entity is reused.
const DefaultThreshold = 0.8

// Gateway is the slice of the persistence layer the index needs.
type Gateway interface {
	InsertIngredient(ctx context.Context, ing recipe.Ingredient) (string, error)
	FindAllIngredients(ctx context.Context) ([]recipe.Ingredient, error)
}

// Match is a scored candidate returned by Query.
type Match struct {
	Ingredient recipe.Ingredient
	Score      float64
}

// Option configures an Index.
type Option func(*Index)

// WithThreshold sets the reuse threshold. Scores equal to the threshold are
// reused.
func WithThreshold(t float64) Option {
	return func(ix *Index) { ix.threshold = t }
}

// WithStrictDedup serializes Resolve so a query and the insert that may
// follow it cannot interleave with another resolution.
func WithStrictDedup(strict bool) Option {
	return func(ix *Index) { ix.strict = strict }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// Index is an in-memory view of the ingredient entities backed by a
// Gateway. It is safe for concurrent use.
//
// The gateway is read once, on first use; afterwards the index only sees the
// entities it inserts itself. Writes made elsewhere (AddTranslation, another
// process) become visible after Reload, or when an insert reports
// ErrDuplicate.
//
// Without strict dedup, Resolve is read-then-write: two concurrent misses on
// near-identical names can both insert.
type Index struct {
	gw        Gateway
	threshold float64
	strict    bool
	logger    *zap.Logger

	loadMu  sync.Mutex
	loaded  bool
	mu      sync.RWMutex
	entries []recipe.Ingredient

	resolveMu sync.Mutex
}

// New creates an index over gw.
func New(gw Gateway, opts ...Option) *Index {
	ix := &Index{
		gw:        gw,
		threshold: DefaultThreshold,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Threshold returns the configured reuse threshold.
func (ix *Index) Threshold() float64 { return ix.threshold }

// Len returns the number of known entities.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// load reads all entities from the gateway on first use.
func (ix *Index) load(ctx context.Context) error {
	ix.loadMu.Lock()
	defer ix.loadMu.Unlock()
	if ix.loaded {
		return nil
	}
	return ix.fill(ctx)
}

// Reload replaces the cached entities with the gateway's current contents.
func (ix *Index) Reload(ctx context.Context) error {
	ix.loadMu.Lock()
	defer ix.loadMu.Unlock()
	return ix.fill(ctx)
}

// fill must be called with loadMu held.
func (ix *Index) fill(ctx context.Context) error {
	all, err := ix.gw.FindAllIngredients(ctx)
	if err != nil {
		return fmt.Errorf("load ingredients: %w", err)
	}

	ix.mu.Lock()
	ix.entries = all
	ix.mu.Unlock()
	ix.loaded = true

	ix.logger.Debug("similarity index loaded", zap.Int("entities", len(all)))
	return nil
}

func (ix *Index) snapshot() []recipe.Ingredient {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.entries[:len(ix.entries):len(ix.entries)]
}

// Query scores every known entity against name, best first. Entities with
// equal scores keep their insertion order.
func (ix *Index) Query(ctx context.Context, name string) ([]Match, error) {
	if err := ix.load(ctx); err != nil {
		return nil, err
	}

	entries := ix.snapshot()
	candidate := runes(name)
	matches := make([]Match, 0, len(entries))
	for _, ing := range entries {
		matches = append(matches, Match{Ingredient: cloneIngredient(ing), Score: bestScore(candidate, ing.Name)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

// Resolve returns the closest known entity when it scores at or above the
// threshold, otherwise it inserts a new entity named name in lang.
func (ix *Index) Resolve(ctx context.Context, name, lang string) (recipe.Ingredient, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return recipe.Ingredient{}, fmt.Errorf("resolve: empty name: %w", internalerr.ErrInvalidInput)
	}
	if lang == "" {
		lang = recipe.DefaultLang
	}

	if ix.strict {
		ix.resolveMu.Lock()
		defer ix.resolveMu.Unlock()
	}

	if ing, ok, err := ix.lookup(ctx, name); err != nil || ok {
		return ing, err
	}

	ing := recipe.Ingredient{Name: recipe.NewText(lang, name)}
	id, err := ix.gw.InsertIngredient(ctx, ing)
	if errors.Is(err, internalerr.ErrDuplicate) {
		// Another writer stored the entity first; pick up its copy.
		if rerr := ix.Reload(ctx); rerr != nil {
			return recipe.Ingredient{}, rerr
		}
		if found, ok, lerr := ix.lookup(ctx, name); lerr != nil || ok {
			return found, lerr
		}
	}
	if err != nil {
		return recipe.Ingredient{}, fmt.Errorf("insert ingredient %q: %w", name, err)
	}
	ing.ID = id

	ix.mu.Lock()
	ix.entries = append(ix.entries, ing)
	ix.mu.Unlock()

	ix.logger.Debug("ingredient created", zap.String("name", name), zap.String("id", id))
	return cloneIngredient(ing), nil
}

// lookup returns the best known match for name when it reaches the
// threshold.
func (ix *Index) lookup(ctx context.Context, name string) (recipe.Ingredient, bool, error) {
	matches, err := ix.Query(ctx, name)
	if err != nil {
		return recipe.Ingredient{}, false, err
	}
	if len(matches) == 0 || matches[0].Score < ix.threshold {
		return recipe.Ingredient{}, false, nil
	}

	best := matches[0]
	ix.logger.Debug("ingredient reused",
		zap.String("name", name),
		zap.String("id", best.Ingredient.ID),
		zap.Float64("score", best.Score),
	)
	return best.Ingredient, true, nil
}

// Score returns the similarity ratio of two names in [0,1], ignoring case
// and Unicode composition.
func Score(a, b string) float64 {
	return ratio(runes(a), runes(b))
}

func bestScore(candidate []string, name recipe.LocalizedText) float64 {
	best := 0.0
	for _, variant := range name {
		if s := ratio(candidate, runes(variant)); s > best {
			best = s
		}
	}
	return best
}

// ratio is 2*M/T where M is the size of the matching blocks and T the total
// length of both sequences.
func ratio(a, b []string) float64 {
	if len(a)+len(b) == 0 {
		return 1
	}
	return difflib.NewMatcher(a, b).Ratio()
}

// runes splits the lower-cased, NFC-normalized string into one element per
// character so the line-oriented matcher compares characters.
func runes(s string) []string {
	s = norm.NFC.String(strings.ToLower(s))
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func cloneIngredient(ing recipe.Ingredient) recipe.Ingredient {
	return recipe.Ingredient{ID: ing.ID, Name: ing.Name.Clone()}
}
