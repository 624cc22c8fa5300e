package scrape

import (
	"encoding/json"
	"fmt"

	"github.com/cognicore/larder/pkg/larder/internalerr"
	"github.com/cognicore/larder/pkg/larder/recipe"
	"github.com/cognicore/larder/pkg/larder/source"
)

// AllRecipes reads the AllRecipes JSON dump format: one recipe object per
// file with title, ingredients, steps[].instruction, ISO-8601 times,
// categories and flat nutrition fields.
type AllRecipes struct{}

type allRecipesDoc struct {
	URL                  string          `json:"url"`
	Title                string          `json:"title"`
	Description          string          `json:"description"`
	Author               any             `json:"author"`
	Image                any             `json:"image"`
	Ingredients          json.RawMessage `json:"ingredients"`
	Steps                []allRecipesRow `json:"steps"`
	PrepTime             any             `json:"prep_time"`
	CookTime             any             `json:"cook_time"`
	TotalTime            any             `json:"total_time"`
	Categories           []string        `json:"categories"`
	NutritionInformation struct {
		Servings any `json:"servings"`
	} `json:"nutritional_information"`
	Calories          any `json:"calories"`
	Protein           any `json:"protein"`
	TotalCarbohydrate any `json:"total_carbohydrate"`
	TotalFat          any `json:"total_fat"`
	DietaryFiber      any `json:"dietary_fiber"`
}

type allRecipesRow struct {
	Instruction string `json:"instruction"`
}

// Name implements Scraper.
func (AllRecipes) Name() string { return "allrecipes" }

// Supports implements Scraper.
func (AllRecipes) Supports(doc source.Document) bool {
	return doc.Kind == source.KindJSON
}

// Scrape implements Scraper.
func (AllRecipes) Scrape(doc source.Document) (Scraped, error) {
	var raw allRecipesDoc
	if err := json.Unmarshal(doc.Body, &raw); err != nil {
		return Scraped{}, fmt.Errorf("decode %s: %w: %w", doc.Ref, internalerr.ErrParse, err)
	}
	if raw.Title == "" {
		return Scraped{}, fmt.Errorf("decode %s: missing title: %w", doc.Ref, internalerr.ErrParse)
	}

	out := Scraped{
		URL:         raw.URL,
		Title:       raw.Title,
		Description: raw.Description,
		Language:    recipe.DefaultLang,
		Yields:      asString(raw.NutritionInformation.Servings),
		Image:       asString(raw.Image),
		Authors:     authors(raw.Author),
		TotalTime:   minutes(raw.TotalTime),
		PrepTime:    minutes(raw.PrepTime),
		CookTime:    minutes(raw.CookTime),
		Tags:        recipe.UniqueTags(raw.Categories),
	}

	if len(raw.Ingredients) > 0 {
		var v any
		if err := json.Unmarshal(raw.Ingredients, &v); err != nil {
			return Scraped{}, fmt.Errorf("decode %s ingredients: %w: %w", doc.Ref, internalerr.ErrParse, err)
		}
		out.Ingredients = asStrings(v)
	}

	out.Instructions = make([]string, 0, len(raw.Steps))
	for _, step := range raw.Steps {
		out.Instructions = append(out.Instructions, step.Instruction)
	}

	n := recipe.Nutrition{
		Calories: asNumber(raw.Calories),
		Protein:  asNumber(raw.Protein),
		Carbs:    asNumber(raw.TotalCarbohydrate),
		Fat:      asNumber(raw.TotalFat),
		Fiber:    asNumber(raw.DietaryFiber),
	}
	if n != (recipe.Nutrition{}) {
		out.Nutrition = &n
	}

	return out, nil
}
