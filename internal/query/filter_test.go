package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		want    Filter
		wantErr bool
	}{
		{
			name: "empty expression",
			expr: "  ",
			want: Filter{},
		},
		{
			name: "single equality",
			expr: "name eq 'docker:10.0.0.4'",
			want: Filter{{Field: "name", Op: OpEq, Value: "docker:10.0.0.4"}},
		},
		{
			name: "slash path and conjunction",
			expr: "customProperties/__containerHostType ne 'KUBERNETES' and address eq 'h1'",
			want: Filter{
				{Field: "customProperties.__containerHostType", Op: OpNe, Value: "KUBERNETES"},
				{Field: "address", Op: OpEq, Value: "h1"},
			},
		},
		{
			name: "parentheses and escaped quote",
			expr: "(name eq 'it''s') AND powerState eq ON",
			want: Filter{
				{Field: "name", Op: OpEq, Value: "it's"},
				{Field: "powerState", Op: OpEq, Value: "ON"},
			},
		},
		{name: "unterminated string", expr: "name eq 'abc", wantErr: true},
		{name: "unsupported operator", expr: "name gt 'a'", wantErr: true},
		{name: "or is rejected", expr: "name eq 'a' or name eq 'b'", wantErr: true},
		{name: "missing value", expr: "name eq", wantErr: true},
		{name: "unbalanced parenthesis", expr: "(name eq 'a'", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				var syntaxErr *SyntaxError
				assert.ErrorAs(t, err, &syntaxErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterMatch(t *testing.T) {
	doc := map[string]interface{}{
		"name":        "docker-01",
		"address":     "test-address-1",
		"tenantLinks": []interface{}{"/projects/a", "/projects/b"},
		"customProperties": map[string]interface{}{
			"__containerHostType": "DOCKER",
			"__Containers":        "3",
		},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"equality", "name eq 'docker-01'", true},
		{"inequality", "name ne 'docker-01'", false},
		{"nested property", "customProperties.__containerHostType eq 'DOCKER'", true},
		{"missing field with ne", "customProperties.__hostAlias ne 'x'", true},
		{"array element", "tenantLinks eq '/projects/b'", true},
		{"wildcard", "address eq 'test-*'", true},
		{"all fields wildcard hit", "ALL_FIELDS eq '*address-1*'", true},
		{"all fields wildcard miss", "ALL_FIELDS eq '*1111*'", false},
		{"conjunction", "name eq 'docker-01' and customProperties/__Containers eq '4'", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(doc))
		})
	}
}

func TestFilterMatchStruct(t *testing.T) {
	type host struct {
		Name  string            `json:"name"`
		Props map[string]string `json:"customProperties"`
	}
	f := Eq("customProperties/__alias", "edge")
	assert.True(t, f.Match(host{Name: "a", Props: map[string]string{"__alias": "edge"}}))
	assert.False(t, f.Match(host{Name: "a"}))
	assert.True(t, Filter{}.Match(host{}))
}

func TestFilterSelector(t *testing.T) {
	f, err := Parse("name eq 'a' and powerState ne 'OFF'")
	require.NoError(t, err)

	sel := f.Selector()
	and, ok := sel["$and"].([]interface{})
	require.True(t, ok)
	require.Len(t, and, 2)
	assert.Equal(t, map[string]interface{}{"name": map[string]interface{}{"$eq": "a"}}, and[0])
	assert.Equal(t, map[string]interface{}{"powerState": map[string]interface{}{"$ne": "OFF"}}, and[1])

	single := Eq("name", "x*").Selector()
	assert.Equal(t, map[string]interface{}{"name": map[string]interface{}{"$regex": "(?i)^x.*$"}}, single)

	all, err := Parse("ALL_FIELDS eq '*edge*'")
	require.NoError(t, err)
	or, ok := all.Selector("name", "address")["$or"].([]interface{})
	require.True(t, ok)
	assert.Len(t, or, 2)

	assert.Empty(t, Filter{}.Selector())
}

func TestFilterString(t *testing.T) {
	f := Eq("name", "it's").And(Filter{{Field: "address", Op: OpNe, Value: "x"}})
	assert.Equal(t, "name eq 'it''s' and address ne 'x'", f.String())

	parsed, err := Parse(f.String())
	require.NoError(t, err)
	assert.Equal(t, f, parsed)
}
