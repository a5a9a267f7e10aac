package criteria

import (
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name  string
		query any
		want  *Criteria
	}{
		{
			name:  "nil query gives empty criteria",
			query: nil,
			want:  &Criteria{Filter: map[string]any{}},
		},
		{
			name:  "empty string gives empty criteria",
			query: "",
			want:  &Criteria{Filter: map[string]any{}},
		},
		{
			name: "record with all keys",
			query: map[string]any{
				"filter": map[string]any{"status": "active"},
				"sort":   "-created,name",
				"limit":  float64(20),
				"skip":   float64(40),
				"fields": []any{"id", "name"},
			},
			want: &Criteria{
				Filter: map[string]any{"status": "active"},
				Sort:   []SortField{{Field: "created", Desc: true}, {Field: "name"}},
				Limit:  20,
				Skip:   40,
				Fields: []string{"id", "name"},
			},
		},
		{
			name:  "aliases",
			query: map[string]any{"where": map[string]any{"a": 1.0}, "offset": 5, "select": "a, b"},
			want: &Criteria{
				Filter: map[string]any{"a": 1.0},
				Skip:   5,
				Fields: []string{"a", "b"},
			},
		},
		{
			name:  "unknown keys become equality filters",
			query: map[string]any{"owner": "bob", "limit": 3},
			want:  &Criteria{Filter: map[string]any{"owner": "bob"}, Limit: 3},
		},
		{
			name:  "url values",
			query: url.Values{"limit": {"10"}, "sort": {"name"}, "tag": {"a", "b"}},
			want: &Criteria{
				Filter: map[string]any{"tag": []string{"a", "b"}},
				Sort:   []SortField{{Field: "name"}},
				Limit:  10,
			},
		},
		{
			name:  "json text",
			query: `{"filter":{"x":true},"limit":1}`,
			want:  &Criteria{Filter: map[string]any{"x": true}, Limit: 1},
		},
		{
			name:  "json raw message",
			query: json.RawMessage(`{"sort":{"b":-1,"a":1}}`),
			want: &Criteria{
				Filter: map[string]any{},
				Sort:   []SortField{{Field: "a"}, {Field: "b", Desc: true}},
			},
		},
		{
			name:  "filter given as json string",
			query: url.Values{"filter": {`{"kind":"x"}`}},
			want:  &Criteria{Filter: map[string]any{"kind": "x"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewBuilder().Build(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name      string
		query     any
		wantField string
	}{
		{"limit above maximum", map[string]any{"limit": 1001}, "limit"},
		{"negative skip", map[string]any{"skip": -1}, "skip"},
		{"fractional limit", map[string]any{"limit": 2.5}, "limit"},
		{"non numeric limit", url.Values{"limit": {"ten"}}, "limit"},
		{"filter not an object", map[string]any{"filter": 3}, "filter"},
		{"bad sort direction", map[string]any{"sort": map[string]any{"a": "sideways"}}, "sort"},
		{"fields with non string", map[string]any{"fields": []any{"a", 1}}, "fields"},
		{"json array", `[1,2]`, "query"},
		{"unsupported type", 42, "query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewBuilder().Build(tt.query)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, ErrInvalidCriteria))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestBuildDefaultLimit(t *testing.T) {
	b := NewBuilder(WithDefaultLimit(25))

	c, err := b.Build(nil)
	require.NoError(t, err)
	assert.Equal(t, 25, c.Limit)

	c, err = b.Build(map[string]any{"limit": 5})
	require.NoError(t, err)
	assert.Equal(t, 5, c.Limit)
}

func TestBuildFromCriteria(t *testing.T) {
	in := &Criteria{
		Filter: map[string]any{"a": 1},
		Sort:   []SortField{{Field: "b", Desc: true}},
		Limit:  4,
		Fields: []string{"a"},
	}
	out, err := NewBuilder().Build(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.NotSame(t, in, out)
}

func TestBuilderFunc(t *testing.T) {
	want := &Criteria{Limit: 7}
	var b Builder = BuilderFunc(func(query any) (*Criteria, error) {
		return want, nil
	})
	got, err := b.Build("ignored")
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestCriteriaEmpty(t *testing.T) {
	var nilCriteria *Criteria
	assert.True(t, nilCriteria.Empty())
	assert.True(t, (&Criteria{Filter: map[string]any{}}).Empty())
	assert.False(t, (&Criteria{Limit: 1}).Empty())
}
