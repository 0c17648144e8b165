package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  float64
	}{
		{
			name:  "plain query",
			query: `query { shop { name } }`,
			want:  1,
		},
		{
			name:  "small page",
			query: `query { products(first: 50) { id } }`,
			want:  3,
		},
		{
			name:  "page rounds up per hundred",
			query: `query { products(first: 250) { id } }`,
			want:  7,
		},
		{
			name:  "last counts like first",
			query: `query { orders(last: 100) { id } }`,
			want:  3,
		},
		{
			name:  "edges add two each",
			query: `query { products(first: 10) { edges { node { id } } } }`,
			want:  5,
		},
		{
			name:  "nested pagination accumulates",
			query: `query { products(first: 10) { edges { node { variants(first: 10) { edges { node { id } } } } } } }`,
			want:  9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, EstimateCost(tt.query))
		})
	}
}

func TestSlimQueryCollapsesWhitespaceAndComments(t *testing.T) {
	query := "query {\n  # fetch the shop\n  shop {\n    name\n  }\n}"
	require.Equal(t, "query { shop { name } }", SlimQuery(query, false))
}

func TestSlimQueryKeepsStringLiterals(t *testing.T) {
	query := `query { products(query: "tag:#sale  two  spaces") { id } }`
	require.Equal(t, query, SlimQuery(query, false))
}

func TestSlimQueryDropsTypename(t *testing.T) {
	query := `query { shop { name __typename } }`
	require.Equal(t, "query { shop { name } }", SlimQuery(query, false))
	require.Equal(t, "query { shop { name __typename } }", SlimQuery(query, true))
}

func TestSlimQueryDropsUnusedPageInfo(t *testing.T) {
	query := `query { products(first: 10) { edges { node { id } } pageInfo { hasNextPage endCursor } } }`
	require.Equal(t, "query { products(first: 10) { edges { node { id } } } }", SlimQuery(query, false))
}

func TestSlimQueryKeepsPageInfoWithCursor(t *testing.T) {
	query := `query { products(first: 10, after: "abc") { edges { node { id } } pageInfo { hasNextPage } } }`
	require.Contains(t, SlimQuery(query, false), "pageInfo")
}

func TestActualQueryCost(t *testing.T) {
	body := []byte(`{"data":{},"extensions":{"cost":{"actualQueryCost":7.5,"throttleStatus":{"currentlyAvailable":992.5}}}}`)
	cost, ok := actualQueryCost(body)
	require.True(t, ok)
	require.Equal(t, 7.5, cost)

	_, ok = actualQueryCost([]byte(`{"data":{}}`))
	require.False(t, ok)

	_, ok = actualQueryCost([]byte(`not json`))
	require.False(t, ok)
}
