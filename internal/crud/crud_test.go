package crud

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiforge/internal/apierr"
	"apiforge/internal/db"
	"apiforge/internal/pipeline"
	"apiforge/internal/registry"
	"apiforge/internal/validation"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func foodEntrySchema() *validation.Schema {
	return validation.NewSchema(map[string]validation.Rule{
		"mealType": {
			Type:     validation.TypeEnum,
			Required: true,
			Enum:     []string{"breakfast", "lunch", "dinner", "snack"},
		},
		"description": {
			Type:     validation.TypeString,
			Required: true,
			Min:      validation.Bound(1),
			Max:      validation.Bound(500),
		},
		"date": {
			Type:      validation.TypeDate,
			Required:  true,
			Predicate: validation.Predicates(func() time.Time { return testNow })["recentDate"],
		},
		"calories": {Type: validation.TypeNumber, Min: validation.Bound(0)},
	})
}

type testAPI struct {
	registry *registry.Registry
	dispatch *db.Dispatch
	gen      *Generator
	router   *mux.Router
}

func newTestAPI(t *testing.T, opts Options, resources ...Resource) *testAPI {
	t.Helper()

	reg := registry.New()
	dispatch := db.NewDispatch()
	stages := []pipeline.Stage{
		pipeline.NewDecodeStage(),
		pipeline.NewValidateStage(validation.New(), nil),
	}
	chain := pipeline.NewChain(apierr.NewHandler(nil, false), stages)
	gen := NewGenerator(reg, dispatch, chain, opts, nil)

	for _, res := range resources {
		require.NoError(t, dispatch.Register(res.Name, db.NewMemoryProvider(res.Name)))
		_, err := gen.Generate(res)
		require.NoError(t, err)
	}

	router := mux.NewRouter()
	for _, d := range reg.All() {
		router.Handle(d.Path, d.Handler).Methods(d.Method)
	}
	return &testAPI{registry: reg, dispatch: dispatch, gen: gen, router: router}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(method, path, &buf))

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func foodEntry() Resource {
	return Resource{
		Name:               "foodEntry",
		ValidationRequired: true,
		Version:            "v1",
		Schema:             foodEntrySchema(),
	}
}

func TestGenerate_OneDescriptorPerOperation(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want int
	}{
		{name: "all by default", ops: nil, want: 6},
		{name: "read only", ops: []Operation{OpList, OpGet}, want: 2},
		{name: "single", ops: []Operation{OpDelete}, want: 1},
		{name: "duplicates collapse", ops: []Operation{OpCreate, OpCreate, OpPatch}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := foodEntry()
			res.Operations = tt.ops
			api := newTestAPI(t, DefaultOptions, res)

			assert.Equal(t, tt.want, api.registry.Len())
			seen := map[string]bool{}
			for _, d := range api.registry.All() {
				assert.False(t, seen[d.Operation], "operation %s registered twice", d.Operation)
				seen[d.Operation] = true
				assert.Equal(t, "foodEntry", d.Resource)
				assert.Equal(t, "v1", d.Version)
			}
		})
	}
}

func TestGenerate_Descriptors(t *testing.T) {
	res := foodEntry()
	res.AuthRequired = true
	res.Roles = map[Operation][]string{OpDelete: {"admin"}}
	api := newTestAPI(t, DefaultOptions, res)

	create, err := api.registry.Lookup(http.MethodPost, "/api/v1/foodEntry", "v1")
	require.NoError(t, err)
	assert.NotNil(t, create.Schema)
	assert.True(t, create.AuthRequired)
	assert.Equal(t, []string{"decode", "validate"}, create.Middleware)
	assert.Equal(t, []string{"foodEntry"}, create.Tags)

	list, err := api.registry.Lookup(http.MethodGet, "/api/v1/foodEntry", "v1")
	require.NoError(t, err)
	assert.Nil(t, list.Schema)

	del, err := api.registry.Lookup(http.MethodDelete, "/api/v1/foodEntry/{id}", "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, del.Roles)
}

func TestGenerate_Failures(t *testing.T) {
	api := newTestAPI(t, DefaultOptions)

	_, err := api.gen.Generate(Resource{Name: "unknown"})
	assert.ErrorIs(t, err, db.ErrUnknownResource)

	_, err = api.gen.Generate(Resource{Name: "bad name!"})
	assert.Error(t, err)

	require.NoError(t, api.dispatch.Register("goal", db.NewMemoryProvider("goal")))
	_, err = api.gen.Generate(Resource{Name: "goal", Operations: []Operation{"archive"}})
	assert.Error(t, err)

	_, err = api.gen.Generate(Resource{Name: "goal"})
	require.NoError(t, err)
	_, err = api.gen.Generate(Resource{Name: "goal"})
	assert.ErrorIs(t, err, registry.ErrDuplicateEndpoint)
}

func TestFoodEntryScenario(t *testing.T) {
	api := newTestAPI(t, DefaultOptions, foodEntry())

	w, body := api.do(t, http.MethodPost, "/api/v1/foodEntry", map[string]any{
		"description": "Oatmeal with berries",
		"date":        "2026-10-13",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", errBody["code"])
	details := errBody["details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "mealType", details[0].(map[string]any)["field"])

	w, body = api.do(t, http.MethodPost, "/api/v1/foodEntry", map[string]any{
		"mealType":    "breakfast",
		"description": "Oatmeal with berries",
		"date":        "2026-10-13",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["id"])
	assert.Equal(t, "foodEntry created successfully", body["meta"].(map[string]any)["message"])
}

func TestFoodEntry_DateWindow(t *testing.T) {
	api := newTestAPI(t, DefaultOptions, foodEntry())

	w, body := api.do(t, http.MethodPost, "/api/v1/foodEntry", map[string]any{
		"mealType":    "lunch",
		"description": "Soup",
		"date":        "2026-01-01",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	details := body["error"].(map[string]any)["details"].([]any)
	assert.Equal(t, "date", details[0].(map[string]any)["field"])
}

func createEntry(t *testing.T, api *testAPI, meal, description string) string {
	t.Helper()
	w, body := api.do(t, http.MethodPost, "/api/v1/foodEntry", map[string]any{
		"mealType":    meal,
		"description": description,
		"date":        "2026-10-13",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return body["data"].(map[string]any)["id"].(string)
}

func TestCRUDLifecycle(t *testing.T) {
	api := newTestAPI(t, DefaultOptions, foodEntry())
	id := createEntry(t, api, "dinner", "Pasta")

	w, body := api.do(t, http.MethodGet, "/api/v1/foodEntry/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Pasta", body["data"].(map[string]any)["description"])

	w, _ = api.do(t, http.MethodPut, "/api/v1/foodEntry/"+id, map[string]any{
		"mealType": "dinner", "description": "Pasta", "date": "2026-10-13", "calories": 700,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = api.do(t, http.MethodPatch, "/api/v1/foodEntry/"+id, map[string]any{"description": "Pesto pasta"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := body["data"].(map[string]any)
	assert.Equal(t, "Pesto pasta", data["description"])
	assert.Equal(t, "dinner", data["mealType"], "patch keeps unsupplied fields")
	assert.Equal(t, float64(700), data["calories"])

	w, _ = api.do(t, http.MethodPatch, "/api/v1/foodEntry/"+id, map[string]any{"mealType": "brunch"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = api.do(t, http.MethodPut, "/api/v1/foodEntry/"+id, map[string]any{"description": "Only"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "put requires every required field")

	w, body = api.do(t, http.MethodDelete, "/api/v1/foodEntry/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "foodEntry deleted successfully", body["meta"].(map[string]any)["message"])
	assert.Nil(t, body["data"])

	w, _ = api.do(t, http.MethodGet, "/api/v1/foodEntry/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMissingAndMalformedIDs(t *testing.T) {
	api := newTestAPI(t, DefaultOptions, foodEntry())
	missing := "6f1c2a9e-4b55-4c1d-9b59-0a1b2c3d4e5f"

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "get missing", method: http.MethodGet, path: "/api/v1/foodEntry/" + missing, want: http.StatusNotFound},
		{name: "get malformed", method: http.MethodGet, path: "/api/v1/foodEntry/not-a-uuid", want: http.StatusBadRequest},
		{name: "put missing", method: http.MethodPut, path: "/api/v1/foodEntry/" + missing, body: map[string]any{"mealType": "lunch", "description": "x", "date": "2026-10-13"}, want: http.StatusNotFound},
		{name: "patch missing", method: http.MethodPatch, path: "/api/v1/foodEntry/" + missing, body: map[string]any{}, want: http.StatusNotFound},
		{name: "delete missing", method: http.MethodDelete, path: "/api/v1/foodEntry/" + missing, want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := api.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestIdempotentDelete(t *testing.T) {
	opts := DefaultOptions
	opts.IdempotentDelete = true
	api := newTestAPI(t, opts, foodEntry())

	w, _ := api.do(t, http.MethodDelete, "/api/v1/foodEntry/6f1c2a9e-4b55-4c1d-9b59-0a1b2c3d4e5f", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestList(t *testing.T) {
	opts := DefaultOptions
	opts.MaxLimit = 3
	api := newTestAPI(t, opts, foodEntry())
	for _, d := range []string{"a", "b", "c", "d", "e"} {
		createEntry(t, api, "snack", d)
	}
	createEntry(t, api, "lunch", "f")

	descriptions := func(body map[string]any) []string {
		var out []string
		for _, item := range body["data"].([]any) {
			out = append(out, item.(map[string]any)["description"].(string))
		}
		return out
	}

	w, body := api.do(t, http.MethodGet, "/api/v1/foodEntry?sort=description&limit=50", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a", "b", "c"}, descriptions(body), "limit is clamped to the max")
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(6), meta["total"])
	assert.Equal(t, float64(3), meta["limit"])
	assert.Equal(t, float64(0), meta["offset"])

	w, body = api.do(t, http.MethodGet, "/api/v1/foodEntry?sort=description:desc&offset=1&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"e", "d"}, descriptions(body))

	w, body = api.do(t, http.MethodGet, "/api/v1/foodEntry?filter="+url.QueryEscape(`{"mealType":"lunch"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"f"}, descriptions(body))
	assert.Equal(t, float64(1), body["meta"].(map[string]any)["total"])

	w, body = api.do(t, http.MethodGet, "/api/v1/foodEntry?sort=-createdAt&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)
}

func TestList_InvalidParams(t *testing.T) {
	api := newTestAPI(t, DefaultOptions, foodEntry())

	for _, q := range []string{"limit=abc", "limit=0", "offset=-1", "sort=name:up", "sort=a.b", "filter=%5B1%5D", "filter=nope"} {
		t.Run(q, func(t *testing.T) {
			w, body := api.do(t, http.MethodGet, "/api/v1/foodEntry?"+q, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "VALIDATION_ERROR", body["error"].(map[string]any)["code"])
		})
	}
}

func TestParseSort(t *testing.T) {
	tests := []struct {
		raw  string
		want []db.Order
	}{
		{raw: "", want: defaultOrder},
		{raw: "title", want: []db.Order{{Field: "title"}}},
		{raw: "-title", want: []db.Order{{Field: "title", Desc: true}}},
		{raw: "title:desc, date:asc", want: []db.Order{{Field: "title", Desc: true}, {Field: "date"}}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseSort(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIDFormat_Check(t *testing.T) {
	assert.True(t, IDUUID.Check("6f1c2a9e-4b55-4c1d-9b59-0a1b2c3d4e5f"))
	assert.False(t, IDUUID.Check("42"))
	assert.True(t, IDInt.Check("42"))
	assert.False(t, IDInt.Check("-1"))
	assert.True(t, IDString.Check("my-goal_1"))
	assert.False(t, IDString.Check("a/b"))
}
