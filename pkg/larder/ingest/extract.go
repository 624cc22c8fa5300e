// Package ingest holds the stage transforms of the recipe pipeline (fetch,
// archive, extract) and builders that chain them.
package ingest

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/cognicore/larder/pkg/larder/ingredient"
	"github.com/cognicore/larder/pkg/larder/internalerr"
	"github.com/cognicore/larder/pkg/larder/parse"
	"github.com/cognicore/larder/pkg/larder/recipe"
	"github.com/cognicore/larder/pkg/larder/scrape"
	"github.com/cognicore/larder/pkg/larder/source"
)

// Resolver maps an ingredient name to a canonical entity.
type Resolver interface {
	Resolve(ctx context.Context, name, lang string) (recipe.Ingredient, error)
}

// RecipeStore persists assembled recipes.
type RecipeStore interface {
	UpsertRecipe(ctx context.Context, key string, r recipe.Recipe) (recipe.Recipe, error)
}

// Extractor turns raw documents into stored recipes.
type Extractor struct {
	store    RecipeStore
	index    Resolver
	parser   *ingredient.Parser
	scrapers *scrape.Registry
	logger   *zap.Logger
}

// NewExtractor wires an extractor. A nil parser, registry or logger selects
// the defaults.
func NewExtractor(st RecipeStore, index Resolver, parser *ingredient.Parser, scrapers *scrape.Registry, logger *zap.Logger) *Extractor {
	if parser == nil {
		parser = ingredient.NewParser(nil)
	}
	if scrapers == nil {
		scrapers = scrape.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		store:    st,
		index:    index,
		parser:   parser,
		scrapers: scrapers,
		logger:   logger,
	}
}

// Process is the pipeline transform: it takes a source.Document, extracts
// and upserts the recipe, and emits the stored recipe.Recipe. Empty
// documents yield nothing.
func (e *Extractor) Process(ctx context.Context, in any) (any, error) {
	doc, ok := in.(source.Document)
	if !ok {
		return nil, fmt.Errorf("extract: unexpected input %T: %w", in, internalerr.ErrInvalidInput)
	}
	if doc.Empty() {
		e.logger.Debug("empty document, nothing to extract", zap.String("ref", doc.Ref))
		return nil, nil
	}

	r, err := e.Extract(ctx, doc)
	if err != nil {
		return nil, err
	}

	key := r.Key()
	saved, err := e.store.UpsertRecipe(ctx, key, r)
	if err != nil {
		// Persistence failures drop the item; only the index may end the stage.
		return nil, fmt.Errorf("upsert %s: %w: %v", key, internalerr.ErrPersist, err)
	}

	e.logger.Info("recipe stored",
		zap.String("ref", doc.Ref),
		zap.String("id", saved.ID),
		zap.String("name", saved.Name.Get(saved.Lang)),
		zap.Int("ingredients", len(saved.Ingredients)),
		zap.Int("steps", len(saved.Steps)))
	return saved, nil
}

// Extract assembles a recipe from doc without persisting it. Ingredient
// entities are resolved, and possibly created, through the index.
func (e *Extractor) Extract(ctx context.Context, doc source.Document) (recipe.Recipe, error) {
	sc, err := e.scrapers.Scrape(doc)
	if err != nil {
		return recipe.Recipe{}, fmt.Errorf("scrape %s: %w", doc.Ref, err)
	}
	title := strings.TrimSpace(sc.Title)
	if title == "" {
		return recipe.Recipe{}, fmt.Errorf("scrape %s: recipe has no title: %w", doc.Ref, internalerr.ErrParse)
	}

	lang := strings.TrimSpace(sc.Language)
	if lang == "" {
		lang = recipe.DefaultLang
	}
	servings := parse.ParseServings(sc.Yields)

	ingredients, err := e.ingredients(ctx, doc.Ref, sc.Ingredients, lang, servings)
	if err != nil {
		return recipe.Recipe{}, err
	}

	r := recipe.Recipe{
		Lang:        lang,
		Name:        recipe.NewText(lang, title),
		Description: recipe.LocalizedText{},
		Ingredients: ingredients,
		Steps:       steps(sc, lang),
		Servings:    servings,
		Duration:    sc.TotalTime,
		Tags:        recipe.UniqueTags(sc.Tags),
		ImageURL:    sc.Image,
		Nutrition:   sc.Nutrition,
	}
	if desc := strings.TrimSpace(sc.Description); desc != "" {
		r.Description = recipe.NewText(lang, desc)
	}
	if r.Duration <= 0 {
		r.Duration = sc.PrepTime + sc.CookTime
	}

	url := sc.URL
	if source.IsURL(doc.Ref) {
		url = strings.TrimSpace(doc.Ref)
	}
	if url != "" || len(sc.Authors) > 0 {
		r.Source = &recipe.Source{URL: url, Authors: sc.Authors}
	}

	return r, nil
}

func (e *Extractor) ingredients(ctx context.Context, ref string, lines []string, lang string, servings int) ([]recipe.RecipeIngredient, error) {
	if servings < 1 {
		servings = 1
	}

	out := make([]recipe.RecipeIngredient, 0, len(lines))
	for _, line := range lines {
		parsed, ok := e.parser.Parse(line)
		if !ok {
			e.logger.Debug("skipping unparseable ingredient", zap.String("ref", ref), zap.String("line", line))
			continue
		}

		name := parsed.Name
		if name == "" {
			name = parsed.Comment
		}
		ing, err := e.index.Resolve(ctx, name, lang)
		if err != nil {
			if internalerr.IsFatal(err) {
				return nil, fmt.Errorf("resolve %q: %w", name, err)
			}
			e.logger.Warn("skipping unresolved ingredient", zap.String("ref", ref), zap.String("name", name), zap.Error(err))
			continue
		}

		item := recipe.RecipeIngredient{Ingredient: ing}
		if parsed.Quantity != nil {
			q := *parsed.Quantity / float64(servings)
			if q < 0 || math.IsNaN(q) || math.IsInf(q, 0) {
				e.logger.Warn("dropping quantity",
					zap.String("ref", ref),
					zap.String("line", line),
					zap.Error(fmt.Errorf("quantity %v: %w", q, internalerr.ErrValidation)))
			} else {
				item.Quantity = &q
			}
		}
		if parsed.Unit != "" {
			unit := parsed.Unit
			item.Unit = &unit
		}
		if parsed.Comment != "" {
			comment := parsed.Comment
			item.Comment = &comment
		}
		out = append(out, item)
	}
	return out, nil
}

func steps(sc scrape.Scraped, lang string) []recipe.RecipeStep {
	var texts []string
	if sc.Instructions != nil {
		texts = parse.SplitSteps(sc.Instructions)
	} else {
		texts = parse.SplitInstructions(sc.InstructionsText)
	}

	out := make([]recipe.RecipeStep, 0, len(texts))
	for _, text := range texts {
		step := recipe.RecipeStep{Description: recipe.NewText(lang, text)}
		if d, ok := parse.StepDuration(text); ok {
			step.Duration = &d
		}
		if t, ok := parse.ExtractTemperature(text); ok {
			step.Temperature = &t
		}
		out = append(out, step)
	}
	return out
}
