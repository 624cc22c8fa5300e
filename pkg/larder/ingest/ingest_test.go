package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cognicore/larder/pkg/larder/internalerr"
	"github.com/cognicore/larder/pkg/larder/pipeline"
	"github.com/cognicore/larder/pkg/larder/recipe"
	"github.com/cognicore/larder/pkg/larder/similarity"
	"github.com/cognicore/larder/pkg/larder/source"
	"github.com/cognicore/larder/pkg/larder/store/memstore"
)

const pancakePage = `<!DOCTYPE html>
<html lang="en-GB">
<head>
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "Recipe",
  "name": "Pancakes",
  "description": "Fluffy <b>pancakes</b>.",
  "recipeYield": "Serves 4",
  "recipeIngredient": ["2 cups flour", "1 egg", "1 cup (optional)"],
  "recipeInstructions": "1. Mix everything. 2. Bake at 350 F for 10-20 min.",
  "prepTime": "PT10M",
  "cookTime": "PT20M",
  "keywords": "breakfast, sweet",
  "author": {"@type": "Person", "name": "Ann"}
}
</script>
</head>
<body></body>
</html>`

func htmlDoc(ref, body string) source.Document {
	return source.Document{Ref: ref, Body: []byte(body), Kind: source.KindHTML}
}

func newExtractor(t *testing.T, st *memstore.Store) *Extractor {
	t.Helper()
	return NewExtractor(st, similarity.New(st), nil, nil, zaptest.NewLogger(t))
}

func fastStages() Options {
	return Options{
		Stage: []pipeline.StageOption{
			pipeline.WithPollTimeout(10 * time.Millisecond),
			pipeline.WithIdleBackoff(time.Millisecond),
		},
	}
}

func runPipeline(t *testing.T, p *pipeline.Pipeline, items ...any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, item := range items {
		require.NoError(t, p.Feed(ctx, item))
	}
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	require.NoError(t, p.Stop(ctx))
	return <-errCh
}

func TestExtractNormalizesPerServing(t *testing.T) {
	st := memstore.New()
	ex := newExtractor(t, st)

	r, err := ex.Extract(context.Background(), htmlDoc("https://example.com/pancakes", pancakePage))
	require.NoError(t, err)

	assert.Equal(t, "en-GB", r.Lang)
	assert.Equal(t, "Pancakes", r.Name.Get("en-GB"))
	assert.Equal(t, "Fluffy pancakes.", r.Description.Get("en-GB"))
	assert.Equal(t, 4, r.Servings)
	assert.Equal(t, 30.0, r.Duration)
	assert.Equal(t, []string{"breakfast", "sweet"}, r.Tags)
	require.NotNil(t, r.Source)
	assert.Equal(t, "https://example.com/pancakes", r.Source.URL)
	assert.Equal(t, []recipe.Author{{Name: "Ann"}}, r.Source.Authors)

	require.Len(t, r.Ingredients, 3)

	flour := r.Ingredients[0]
	assert.Equal(t, "flour", flour.Ingredient.Name.Get("en-GB"))
	assert.NotEmpty(t, flour.Ingredient.ID)
	require.NotNil(t, flour.Quantity)
	assert.InDelta(t, 0.5, *flour.Quantity, 1e-9)
	require.NotNil(t, flour.Unit)
	assert.Equal(t, "cup", *flour.Unit)

	egg := r.Ingredients[1]
	require.NotNil(t, egg.Quantity)
	assert.InDelta(t, 0.25, *egg.Quantity, 1e-9)
	assert.Nil(t, egg.Unit)

	optional := r.Ingredients[2]
	assert.Equal(t, "optional", optional.Ingredient.Name.Get("en-GB"), "name falls back to the comment")

	require.Len(t, r.Steps, 2)
	assert.Equal(t, "Mix everything.", r.Steps[0].Description.Get("en-GB"))
	assert.Nil(t, r.Steps[0].Temperature)
	assert.Nil(t, r.Steps[0].Duration)
	require.NotNil(t, r.Steps[1].Temperature)
	assert.Equal(t, 177, *r.Steps[1].Temperature)
	require.NotNil(t, r.Steps[1].Duration)
	assert.Equal(t, 15.0, *r.Steps[1].Duration)
}

func TestExtractEmptySequences(t *testing.T) {
	st := memstore.New()
	ex := newExtractor(t, st)

	page := `<script type="application/ld+json">{"@type":"Recipe","name":"Water"}</script>`
	r, err := ex.Extract(context.Background(), htmlDoc("water.html", page))
	require.NoError(t, err)

	assert.NotNil(t, r.Ingredients)
	assert.Empty(t, r.Ingredients)
	assert.NotNil(t, r.Steps)
	assert.Empty(t, r.Steps)
	assert.NotNil(t, r.Tags)
	assert.Equal(t, recipe.DefaultLang, r.Lang)
	assert.Equal(t, 1, r.Servings)
	assert.Nil(t, r.Source)
	assert.Equal(t, "name:water", r.Key())
}

func TestExtractReusesIngredients(t *testing.T) {
	st := memstore.New()
	ex := newExtractor(t, st)
	ctx := context.Background()

	first := `<script type="application/ld+json">{"@type":"Recipe","name":"Bread","recipeIngredient":["500 g flour","1 tsp salt"]}</script>`
	second := `<script type="application/ld+json">{"@type":"Recipe","name":"Pasta","recipeIngredient":["400 g Flour","3 eggs"]}</script>`

	a, err := ex.Process(ctx, htmlDoc("https://example.com/bread", first))
	require.NoError(t, err)
	b, err := ex.Process(ctx, htmlDoc("https://example.com/pasta", second))
	require.NoError(t, err)

	bread := a.(recipe.Recipe)
	pasta := b.(recipe.Recipe)
	assert.Equal(t, bread.Ingredients[0].Ingredient.ID, pasta.Ingredients[0].Ingredient.ID)

	all, err := st.FindAllIngredients(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestProcessUpsertsByURL(t *testing.T) {
	st := memstore.New()
	ex := newExtractor(t, st)
	ctx := context.Background()

	out, err := ex.Process(ctx, htmlDoc("https://example.com/pancakes", pancakePage))
	require.NoError(t, err)
	first := out.(recipe.Recipe)
	assert.NotEmpty(t, first.ID)

	out, err = ex.Process(ctx, htmlDoc("https://example.com/pancakes", pancakePage))
	require.NoError(t, err)
	second := out.(recipe.Recipe)
	assert.Equal(t, first.ID, second.ID)

	n, err := st.CountRecipes(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stored, ok, err := st.GetRecipe(ctx, "url:https://example.com/pancakes")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Pancakes", stored.Name.Get("en-GB"))
}

func TestProcessItemErrors(t *testing.T) {
	st := memstore.New()
	ex := newExtractor(t, st)
	ctx := context.Background()

	out, err := ex.Process(ctx, htmlDoc("blank.html", "  \n"))
	require.NoError(t, err)
	assert.Nil(t, out, "empty documents yield nothing")

	_, err = ex.Process(ctx, "not a document")
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)

	_, err = ex.Process(ctx, htmlDoc("plain.html", "<html><body><p>No recipe here</p></body></html>"))
	assert.ErrorIs(t, err, internalerr.ErrParse)
	assert.False(t, internalerr.IsFatal(err))

	untitled := `<script type="application/ld+json">{"@type":"Recipe","recipeIngredient":["1 egg"]}</script>`
	_, err = ex.Process(ctx, htmlDoc("untitled.html", untitled))
	assert.ErrorIs(t, err, internalerr.ErrParse)

	n, err := st.CountRecipes(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessStoreUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("index is fatal", func(t *testing.T) {
		st := memstore.New()
		ex := newExtractor(t, st)
		st.SetUnavailable(true)

		_, err := ex.Process(ctx, htmlDoc("https://example.com/pancakes", pancakePage))
		assert.ErrorIs(t, err, internalerr.ErrStoreUnavailable)
		assert.True(t, internalerr.IsFatal(err))
	})

	t.Run("upsert is an item error", func(t *testing.T) {
		st := memstore.New()
		ex := newExtractor(t, st)
		st.SetUnavailable(true)

		page := `<script type="application/ld+json">{"@type":"Recipe","name":"Water"}</script>`
		_, err := ex.Process(ctx, htmlDoc("water.html", page))
		assert.ErrorIs(t, err, internalerr.ErrPersist)
		assert.False(t, internalerr.IsFatal(err))
	})
}

// rejectingGateway refuses to store one name, as a gateway with a unique
// constraint would for a row it cannot see.
type rejectingGateway struct {
	*memstore.Store
	reject string
}

func (g rejectingGateway) InsertIngredient(ctx context.Context, ing recipe.Ingredient) (string, error) {
	for _, name := range ing.Name {
		if name == g.reject {
			return "", fmt.Errorf("unique index: %w", internalerr.ErrDuplicate)
		}
	}
	return g.Store.InsertIngredient(ctx, ing)
}

func TestProcessDuplicateIngredientIsNotFatal(t *testing.T) {
	st := memstore.New()
	index := similarity.New(rejectingGateway{Store: st, reject: "egg"})
	ex := NewExtractor(st, index, nil, nil, zaptest.NewLogger(t))

	out, err := ex.Process(context.Background(), htmlDoc("https://example.com/pancakes", pancakePage))
	require.NoError(t, err)

	r := out.(recipe.Recipe)
	require.Len(t, r.Ingredients, 2, "the rejected ingredient is skipped")
	assert.Equal(t, "flour", r.Ingredients[0].Ingredient.Name.Get("en-GB"))
	assert.Equal(t, "optional", r.Ingredients[1].Ingredient.Name.Get("en-GB"))
}

func TestFetchStage(t *testing.T) {
	ctx := context.Background()
	fetch := FetchStage(source.File{})

	out, err := fetch(ctx, "   ")
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = fetch(ctx, 42)
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)

	_, err = fetch(ctx, "/nonexistent/recipe.json")
	assert.ErrorIs(t, err, internalerr.ErrNotFound)

	out, err = fetch(ctx, "../scrape/testdata/allrecipes.json")
	require.NoError(t, err)
	doc := out.(source.Document)
	assert.Equal(t, source.KindJSON, doc.Kind)
	assert.False(t, doc.Empty())
}

func TestArchiveStage(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	stage := ArchiveStage(st, zaptest.NewLogger(t))

	doc := htmlDoc("https://example.com/pancakes", pancakePage)
	out, err := stage(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, doc, out)

	entry, err := st.GetRaw(ctx, doc.Ref)
	require.NoError(t, err)
	body, err := source.Decompress(entry.Data)
	require.NoError(t, err)
	assert.Equal(t, pancakePage, string(body))

	// Already archived: the stored entry is left alone.
	changed := htmlDoc(doc.Ref, "<html>changed</html>")
	_, err = stage(ctx, changed)
	require.NoError(t, err)
	again, err := st.GetRaw(ctx, doc.Ref)
	require.NoError(t, err)
	assert.Equal(t, entry.Data, again.Data)

	// JSON and replayed documents are never archived.
	_, err = stage(ctx, source.Document{Ref: "dump.json", Body: []byte("{}"), Kind: source.KindJSON})
	require.NoError(t, err)
	_, err = stage(ctx, source.Document{Ref: "https://example.com/old", Body: []byte("<p/>"), Kind: source.KindHTML, Archived: true})
	require.NoError(t, err)
	refs, err := st.ListRaw(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{doc.Ref}, refs)

	_, err = stage(ctx, "nope")
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)

	st.SetUnavailable(true)
	_, err = stage(ctx, htmlDoc("https://example.com/other", pancakePage))
	assert.True(t, internalerr.IsFatal(err))
}

type failingRaw struct{}

func (failingRaw) ArchiveRaw(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func (failingRaw) HasRaw(context.Context, string) (bool, error) { return false, nil }

func TestArchiveStageKeepsDocumentOnWriteFailure(t *testing.T) {
	stage := ArchiveStage(failingRaw{}, zaptest.NewLogger(t))
	doc := htmlDoc("https://example.com/pancakes", pancakePage)

	out, err := stage(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}

func TestHTMLPipelineAndReplay(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pancakes" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, pancakePage)
	}))
	defer srv.Close()

	st := memstore.New()
	ex := newExtractor(t, st)
	opts := fastStages()
	opts.Logger = zaptest.NewLogger(t)

	web := source.NewHTTP(source.WithRatePerHost(0, 1), source.WithRetries(0, 0))
	p := NewHTMLPipeline(web, st, ex, opts)
	require.Len(t, p.Stages(), 3)

	url := srv.URL + "/pancakes"
	require.NoError(t, runPipeline(t, p, url, srv.URL+"/missing"))

	stats := p.Stats()
	assert.EqualValues(t, 2, stats[0].Received)
	assert.EqualValues(t, 1, stats[0].Failed)
	assert.EqualValues(t, 1, stats[2].Emitted)
	assert.EqualValues(t, 1, hits.Load())

	stored, ok, err := st.GetRecipe(context.Background(), "url:"+url)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, stored.Servings)

	refs, err := st.ListRaw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{url}, refs)

	// Replay re-extracts from the archive without touching the server.
	replay := NewReplayPipeline(st, ex, opts)
	require.NoError(t, runPipeline(t, replay, url))
	assert.EqualValues(t, 1, replay.Stats()[1].Emitted)
	assert.EqualValues(t, 1, hits.Load())

	again, ok, err := st.GetRecipe(context.Background(), "url:"+url)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stored.ID, again.ID)
}

func TestHTMLPipelineWithoutArchive(t *testing.T) {
	st := memstore.New()
	p := NewHTMLPipeline(source.File{}, nil, newExtractor(t, st), fastStages())

	names := make([]string, 0, 2)
	for _, s := range p.Stages() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"fetch", "extract"}, names)
}

func TestJSONPipeline(t *testing.T) {
	st := memstore.New()
	ex := newExtractor(t, st)
	p := NewJSONPipeline(source.File{}, ex, fastStages())

	require.NoError(t, runPipeline(t, p, "../scrape/testdata/allrecipes.json"))

	r, ok, err := st.GetRecipe(context.Background(), "url:https://www.allrecipes.com/recipe/1/banana-bread/")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 8, r.Servings)
	assert.Equal(t, 80.0, r.Duration)
	require.Len(t, r.Ingredients, 3)
	require.NotNil(t, r.Ingredients[1].Quantity)
	assert.InDelta(t, 0.375, *r.Ingredients[1].Quantity, 1e-9)
	require.NotNil(t, r.Ingredients[1].Comment)
	assert.Equal(t, "mashed", *r.Ingredients[1].Comment)
	require.Len(t, r.Steps, 2)
	assert.Equal(t, 177, *r.Steps[0].Temperature)
	assert.Equal(t, 62.5, *r.Steps[1].Duration)
}

func TestPipelineStopsOnStoreOutage(t *testing.T) {
	st := memstore.New()
	ex := newExtractor(t, st)
	st.SetUnavailable(true)

	p := NewJSONPipeline(source.File{}, ex, fastStages())
	err := runPipeline(t, p, "../scrape/testdata/allrecipes.json")
	assert.ErrorIs(t, err, internalerr.ErrStoreUnavailable)
}
