package scrape

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cognicore/larder/pkg/larder/internalerr"
	"github.com/cognicore/larder/pkg/larder/parse"
	"github.com/cognicore/larder/pkg/larder/recipe"
	"github.com/cognicore/larder/pkg/larder/source"
)

// LDJSON reads schema.org Recipe objects embedded as
// <script type="application/ld+json"> in HTML pages.
type LDJSON struct{}

// Name implements Scraper.
func (LDJSON) Name() string { return "ld+json" }

// Supports implements Scraper.
func (LDJSON) Supports(doc source.Document) bool {
	return doc.Kind == source.KindHTML
}

// Scrape implements Scraper.
func (LDJSON) Scrape(doc source.Document) (Scraped, error) {
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return Scraped{}, fmt.Errorf("read html %s: %w: %w", doc.Ref, internalerr.ErrParse, err)
	}

	var node map[string]any
	page.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &data); err != nil {
			return true
		}
		node = findRecipe(data)
		return node == nil
	})
	if node == nil {
		return Scraped{}, fmt.Errorf("no schema.org recipe in %s: %w", doc.Ref, internalerr.ErrParse)
	}

	out := Scraped{
		URL:         asString(node["url"]),
		Title:       parse.HTMLText(asString(node["name"])),
		Description: parse.HTMLText(asString(node["description"])),
		Language:    asString(node["inLanguage"]),
		Yields:      asString(node["recipeYield"]),
		Image:       asString(node["image"]),
		Authors:     authors(node["author"]),
		Nutrition:   nutrition(node["nutrition"]),
	}
	if out.Language == "" {
		out.Language = strings.TrimSpace(page.Find("html").AttrOr("lang", ""))
	}

	ingredients := node["recipeIngredient"]
	if ingredients == nil {
		ingredients = node["ingredients"]
	}
	for _, line := range asStrings(ingredients) {
		if line = parse.HTMLText(line); line != "" {
			out.Ingredients = append(out.Ingredients, line)
		}
	}

	switch v := node["recipeInstructions"].(type) {
	case string:
		out.InstructionsText = v
		if strings.Contains(v, "<") {
			out.InstructionsText = parse.HTMLText(v)
		}
	default:
		out.Instructions = instructions(v)
	}

	out.TotalTime = minutes(node["totalTime"])
	out.PrepTime = minutes(node["prepTime"])
	out.CookTime = minutes(node["cookTime"])

	tags := splitKeywords(asStrings(node["keywords"]))
	tags = append(tags, asStrings(node["recipeCategory"])...)
	tags = append(tags, asStrings(node["recipeCuisine"])...)
	out.Tags = recipe.UniqueTags(tags)

	return out, nil
}

// findRecipe walks a decoded LD+JSON value for the first Recipe object,
// looking into arrays, @graph containers and mainEntity.
func findRecipe(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if r := findRecipe(item); r != nil {
				return r
			}
		}
	case map[string]any:
		if isRecipe(t["@type"]) {
			return t
		}
		if r := findRecipe(t["@graph"]); r != nil {
			return r
		}
		if r := findRecipe(t["mainEntity"]); r != nil {
			return r
		}
	}
	return nil
}

func isRecipe(typ any) bool {
	for _, s := range asStrings(typ) {
		if strings.EqualFold(s, "Recipe") || strings.HasSuffix(s, "/Recipe") {
			return true
		}
	}
	return false
}

// instructions flattens HowToStep and HowToSection lists into step texts.
func instructions(v any) []string {
	var out []string
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if s := parse.HTMLText(t); s != "" {
				out = append(out, s)
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			if items, ok := t["itemListElement"]; ok {
				walk(items)
				return
			}
			text := asString(t["text"])
			if text == "" {
				text = asString(t["name"])
			}
			walk(text)
		}
	}
	walk(v)
	return out
}

func authors(v any) []recipe.Author {
	var out []recipe.Author
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, recipe.Author{Name: s})
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			if name := asString(t["name"]); name != "" {
				out = append(out, recipe.Author{Name: name, URL: asString(t["url"])})
			}
		}
	}
	walk(v)
	return out
}

func nutrition(v any) *recipe.Nutrition {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	n := recipe.Nutrition{
		Calories: asNumber(m["calories"]),
		Protein:  asNumber(m["proteinContent"]),
		Carbs:    asNumber(m["carbohydrateContent"]),
		Fat:      asNumber(m["fatContent"]),
		Fiber:    asNumber(m["fiberContent"]),
	}
	if n == (recipe.Nutrition{}) {
		return nil
	}
	return &n
}

func minutes(v any) float64 {
	m, err := parse.ParseISODuration(asString(v))
	if err != nil {
		return 0
	}
	return m
}
