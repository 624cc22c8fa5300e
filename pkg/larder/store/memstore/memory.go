package memstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/larder/pkg/larder/internalerr"
	"github.com/cognicore/larder/pkg/larder/recipe"
	"github.com/cognicore/larder/pkg/larder/store"
)

// Store is an in-memory implementation of store.Store for tests and dry runs.
type Store struct {
	mu          sync.RWMutex
	entropy     *ulid.MonotonicEntropy
	recipes     map[string]recipe.Recipe
	ingredients []recipe.Ingredient
	ingIndex    map[string]int
	raw         map[string]store.RawEntry
	unavailable bool
	now         func() time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		entropy:  ulid.Monotonic(rand.Reader, 0),
		recipes:  make(map[string]recipe.Recipe),
		ingIndex: make(map[string]int),
		raw:      make(map[string]store.RawEntry),
		now:      time.Now,
	}
}

// SetUnavailable makes every subsequent call fail with ErrStoreUnavailable
// until it is reset.
func (s *Store) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

func (s *Store) check() error {
	if s.unavailable {
		return fmt.Errorf("memstore: %w", internalerr.ErrStoreUnavailable)
	}
	return nil
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// UpsertRecipe inserts or replaces a recipe. The ID and creation time of an
// existing record are preserved.
func (s *Store) UpsertRecipe(ctx context.Context, key string, r recipe.Recipe) (recipe.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return recipe.Recipe{}, err
	}
	if key == "" {
		return recipe.Recipe{}, fmt.Errorf("upsert recipe: empty key: %w", internalerr.ErrInvalidInput)
	}

	now := s.now().UTC()
	if existing, ok := s.recipes[key]; ok {
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
	} else {
		if r.ID == "" {
			r.ID = s.newID()
		}
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	s.recipes[key] = copyRecipe(r)
	return copyRecipe(r), nil
}

// GetRecipe returns the recipe stored under key.
func (s *Store) GetRecipe(ctx context.Context, key string) (recipe.Recipe, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return recipe.Recipe{}, false, err
	}
	r, ok := s.recipes[key]
	if !ok {
		return recipe.Recipe{}, false, nil
	}
	return copyRecipe(r), true, nil
}

// CountRecipes returns the number of stored recipes.
func (s *Store) CountRecipes(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return 0, err
	}
	return int64(len(s.recipes)), nil
}

// InsertIngredient stores a new ingredient entity and returns its ID.
func (s *Store) InsertIngredient(ctx context.Context, ing recipe.Ingredient) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return "", err
	}
	if len(ing.Name) == 0 {
		return "", fmt.Errorf("insert ingredient: no name: %w", internalerr.ErrInvalidInput)
	}

	ing.ID = s.newID()
	ing.Name = ing.Name.Clone()
	s.ingIndex[ing.ID] = len(s.ingredients)
	s.ingredients = append(s.ingredients, ing)
	return ing.ID, nil
}

// FindAllIngredients returns every entity in insertion order.
func (s *Store) FindAllIngredients(ctx context.Context) ([]recipe.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]recipe.Ingredient, len(s.ingredients))
	for i, ing := range s.ingredients {
		out[i] = recipe.Ingredient{ID: ing.ID, Name: ing.Name.Clone()}
	}
	return out, nil
}

// AddTranslation adds or replaces a translation of an ingredient name.
func (s *Store) AddTranslation(ctx context.Context, id, lang, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}
	idx, ok := s.ingIndex[id]
	if !ok {
		return fmt.Errorf("ingredient %s: %w", id, internalerr.ErrNotFound)
	}
	s.ingredients[idx].Name[lang] = name
	return nil
}

// ArchiveRaw stores raw document bytes under ref. An existing entry is kept.
func (s *Store) ArchiveRaw(ctx context.Context, ref string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.raw[ref]; ok {
		return nil
	}
	s.raw[ref] = store.RawEntry{
		Ref:        ref,
		Data:       append([]byte(nil), data...),
		ArchivedAt: s.now().UTC(),
	}
	return nil
}

// HasRaw reports whether ref has been archived.
func (s *Store) HasRaw(ctx context.Context, ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return false, err
	}
	_, ok := s.raw[ref]
	return ok, nil
}

// GetRaw returns the archived entry for ref.
func (s *Store) GetRaw(ctx context.Context, ref string) (store.RawEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return store.RawEntry{}, err
	}
	e, ok := s.raw[ref]
	if !ok {
		return store.RawEntry{}, fmt.Errorf("raw %s: %w", ref, internalerr.ErrNotFound)
	}
	e.Data = append([]byte(nil), e.Data...)
	return e, nil
}

// ListRaw returns all archived refs, sorted.
func (s *Store) ListRaw(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(s.raw))
	for ref := range s.raw {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs, nil
}

func copyRecipe(r recipe.Recipe) recipe.Recipe {
	out := r
	out.Name = r.Name.Clone()
	out.Description = r.Description.Clone()
	out.Ingredients = cloneSlice(r.Ingredients)
	for i := range out.Ingredients {
		out.Ingredients[i].Ingredient.Name = r.Ingredients[i].Ingredient.Name.Clone()
	}
	out.Steps = cloneSlice(r.Steps)
	for i := range out.Steps {
		out.Steps[i].Description = r.Steps[i].Description.Clone()
	}
	out.Tags = cloneSlice(r.Tags)
	if r.Source != nil {
		src := *r.Source
		src.Authors = cloneSlice(r.Source.Authors)
		out.Source = &src
	}
	if r.Nutrition != nil {
		n := *r.Nutrition
		out.Nutrition = &n
	}
	return out
}

// cloneSlice copies in, keeping the nil/empty distinction.
func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append(make([]T, 0, len(in)), in...)
}

var _ store.Store = (*Store)(nil)
