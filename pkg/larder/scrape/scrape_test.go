package scrape

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/larder/pkg/larder/internalerr"
	"github.com/cognicore/larder/pkg/larder/recipe"
	"github.com/cognicore/larder/pkg/larder/source"
)

func loadDoc(t *testing.T, name string) source.Document {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return source.Document{Ref: name, Body: body, Kind: source.KindFromRef(name)}
}

func TestLDJSONRecipe(t *testing.T) {
	got, err := LDJSON{}.Scrape(loadDoc(t, "pancakes.html"))
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/pancakes", got.URL)
	assert.Equal(t, "Fluffy Pancakes", got.Title)
	assert.Equal(t, "Light & fluffy pancakes.", got.Description)
	assert.Equal(t, "en-GB", got.Language, "falls back to <html lang>")
	assert.Equal(t, "4", got.Yields)
	assert.Equal(t, "https://example.com/pancakes.jpg", got.Image)
	assert.Equal(t, []recipe.Author{{Name: "Jo Baker", URL: "https://example.com/jo"}}, got.Authors)
	assert.Equal(t, []string{"2 cups flour", "2 eggs", "1 1/2 cups milk"}, got.Ingredients)
	assert.Equal(t, []string{
		"Whisk the flour and eggs.",
		"Cook for 2-4 minutes per side.",
		"Serve warm.",
	}, got.Instructions)
	assert.Empty(t, got.InstructionsText)
	assert.Equal(t, 30.0, got.TotalTime)
	assert.Equal(t, 10.0, got.PrepTime)
	assert.Equal(t, 20.0, got.CookTime)
	assert.Equal(t, []string{"breakfast", "sweet", "Brunch"}, got.Tags)
	require.NotNil(t, got.Nutrition)
	assert.Equal(t, recipe.Nutrition{Calories: 240, Protein: 7, Fat: 9.5}, *got.Nutrition)
}

func TestLDJSONGraph(t *testing.T) {
	got, err := LDJSON{}.Scrape(loadDoc(t, "graph.html"))
	require.NoError(t, err)

	assert.Equal(t, "Linsensuppe", got.Title)
	assert.Equal(t, "de-DE", got.Language)
	assert.Equal(t, "6", got.Yields)
	assert.Equal(t, []string{"500 g Linsen"}, got.Ingredients)
	assert.Nil(t, got.Instructions)
	assert.Equal(t, "1. Linsen waschen. 2. 30 Minuten kochen.", got.InstructionsText)
	assert.Equal(t, []recipe.Author{{Name: "Anna"}, {Name: "Ben"}}, got.Authors)
	assert.Nil(t, got.Nutrition)
}

func TestLDJSONWithoutRecipe(t *testing.T) {
	_, err := LDJSON{}.Scrape(loadDoc(t, "plain.html"))
	assert.ErrorIs(t, err, internalerr.ErrParse)
}

func TestAllRecipes(t *testing.T) {
	got, err := AllRecipes{}.Scrape(loadDoc(t, "allrecipes.json"))
	require.NoError(t, err)

	assert.Equal(t, "Banana Bread", got.Title)
	assert.Equal(t, recipe.DefaultLang, got.Language)
	assert.Equal(t, "8", got.Yields)
	assert.Equal(t, []string{"2 cups all-purpose flour", "3 ripe bananas, mashed", "1/2 cup butter"}, got.Ingredients)
	assert.Equal(t, []string{"Preheat oven to 350 F.", "Bake for 60-65 minutes."}, got.Instructions)
	assert.Zero(t, got.TotalTime)
	assert.Equal(t, 15.0, got.PrepTime)
	assert.Equal(t, 65.0, got.CookTime)
	assert.Equal(t, []string{"Bread", "Quick Bread"}, got.Tags)
	assert.Equal(t, []recipe.Author{{Name: "Grandma"}}, got.Authors)
	require.NotNil(t, got.Nutrition)
	assert.Equal(t, recipe.Nutrition{Calories: 229.5, Protein: 3.3, Carbs: 34, Fat: 9.8, Fiber: 1.1}, *got.Nutrition)
}

func TestAllRecipesRejectsBadInput(t *testing.T) {
	for _, body := range []string{`{not json`, `{"description": "no title"}`} {
		_, err := AllRecipes{}.Scrape(source.Document{Ref: "x.json", Body: []byte(body), Kind: source.KindJSON})
		assert.ErrorIs(t, err, internalerr.ErrParse, body)
	}
}

func TestRegistry(t *testing.T) {
	reg := Default()

	s, ok := reg.For(source.Document{Kind: source.KindHTML})
	require.True(t, ok)
	assert.Equal(t, "ld+json", s.Name())

	s, ok = reg.For(source.Document{Kind: source.KindJSON})
	require.True(t, ok)
	assert.Equal(t, "allrecipes", s.Name())

	_, err := NewRegistry().Scrape(source.Document{Ref: "x", Kind: source.KindHTML})
	assert.ErrorIs(t, err, internalerr.ErrParse)

	got, err := reg.Scrape(loadDoc(t, "allrecipes.json"))
	require.NoError(t, err)
	assert.Equal(t, "Banana Bread", got.Title)
}

func TestAsNumber(t *testing.T) {
	assert.Equal(t, 240.0, asNumber("240 calories"))
	assert.Equal(t, 12.5, asNumber(12.5))
	assert.Equal(t, 0.0, asNumber("none"))
	assert.Equal(t, 0.0, asNumber(nil))
}
