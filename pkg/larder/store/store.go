package store

import (
	"context"
	"time"

	"github.com/cognicore/larder/pkg/larder/recipe"
)

// Store is the persistence gateway used by the ingest pipeline
type Store interface {
	Close() error

	// Recipes
	UpsertRecipe(ctx context.Context, key string, r recipe.Recipe) (recipe.Recipe, error)
	GetRecipe(ctx context.Context, key string) (recipe.Recipe, bool, error)
	CountRecipes(ctx context.Context) (int64, error)

	// Ingredient entities
	InsertIngredient(ctx context.Context, ing recipe.Ingredient) (string, error)
	FindAllIngredients(ctx context.Context) ([]recipe.Ingredient, error)
	AddTranslation(ctx context.Context, id, lang, name string) error

	// Raw document archive
	ArchiveRaw(ctx context.Context, ref string, data []byte) error
	HasRaw(ctx context.Context, ref string) (bool, error)
	GetRaw(ctx context.Context, ref string) (RawEntry, error)
	ListRaw(ctx context.Context) ([]string, error)
}

// RawEntry is an archived source document. Data is stored as given by the
// caller (the archive stage stores it compressed).
type RawEntry struct {
	Ref        string
	Data       []byte
	ArchivedAt time.Time
}
