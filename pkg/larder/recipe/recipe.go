// Package recipe defines the normalized recipe record and the ingredient
// entities it references.
package recipe

import (
	"sort"
	"strings"
	"time"
)

// DefaultLang is used when a source does not declare a language.
const DefaultLang = "en-US"

// LocalizedText maps a language tag to a display string.
type LocalizedText map[string]string

// NewText creates a LocalizedText with a single translation.
func NewText(lang, value string) LocalizedText {
	return LocalizedText{lang: value}
}

// Get returns the translation for lang, or "" when missing.
func (t LocalizedText) Get(lang string) string {
	return t[lang]
}

// Langs returns the language tags in sorted order.
func (t LocalizedText) Langs() []string {
	langs := make([]string, 0, len(t))
	for lang := range t {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// First returns the translation of the lexicographically first language.
func (t LocalizedText) First() string {
	langs := t.Langs()
	if len(langs) == 0 {
		return ""
	}
	return t[langs[0]]
}

// Clone returns an independent copy.
func (t LocalizedText) Clone() LocalizedText {
	if t == nil {
		return nil
	}
	out := make(LocalizedText, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Ingredient is a deduplicated ingredient entity shared across recipes.
type Ingredient struct {
	ID   string        `json:"id,omitempty"`
	Name LocalizedText `json:"name"`
}

// RecipeIngredient is one ingredient line of a recipe. Quantity is per
// serving.
type RecipeIngredient struct {
	Ingredient Ingredient `json:"ingredient"`
	Quantity   *float64   `json:"quantity,omitempty"`
	Unit       *string    `json:"unit,omitempty"`
	Comment    *string    `json:"comment,omitempty"`
}

// RecipeStep is one instruction. Duration is in minutes, Temperature in
// degrees Celsius.
type RecipeStep struct {
	Description LocalizedText `json:"description"`
	Duration    *float64      `json:"duration,omitempty"`
	Temperature *int          `json:"temperature,omitempty"`
}

// Author credits a recipe author.
type Author struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Source records where a recipe came from.
type Source struct {
	URL     string   `json:"url,omitempty"`
	Authors []Author `json:"authors,omitempty"`
}

// Nutrition holds per-recipe nutrition facts.
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	Fiber    float64 `json:"fiber"`
}

// Recipe is the normalized record produced by extraction.
type Recipe struct {
	ID          string             `json:"id,omitempty"`
	Lang        string             `json:"lang"`
	Name        LocalizedText      `json:"name"`
	Description LocalizedText      `json:"description"`
	Ingredients []RecipeIngredient `json:"ingredients"`
	Steps       []RecipeStep       `json:"steps"`
	Servings    int                `json:"servings"`
	Duration    float64            `json:"duration"`
	Source      *Source            `json:"source,omitempty"`
	Tags        []string           `json:"tags"`
	ImageURL    string             `json:"image_url,omitempty"`
	Nutrition   *Nutrition         `json:"nutrition,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Key returns the upsert identity: the source URL when present, otherwise
// the normalized name in the primary language.
func (r Recipe) Key() string {
	if r.Source != nil && strings.TrimSpace(r.Source.URL) != "" {
		return "url:" + strings.TrimSpace(r.Source.URL)
	}
	name := r.Name.Get(r.Lang)
	if name == "" {
		name = r.Name.First()
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	return "name:" + name
}

// UniqueTags deduplicates tags case-insensitively, keeping the first
// spelling and order of appearance. Blank tags are dropped.
func UniqueTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		k := strings.ToLower(tag)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, tag)
	}
	return out
}
