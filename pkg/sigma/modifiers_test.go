package sigma

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFieldNode(t *testing.T) {
	tests := []struct {
		name string
		mods []string
		raw  []any
		want Node
	}{
		{"plain", nil, []any{"x"}, MapItem{Field: "F", Value: "x"}},
		{"startswith", []string{"startswith"}, []any{"x"}, MapItem{Field: "F", Value: "x*"}},
		{"endswith", []string{"endswith"}, []any{"x"}, MapItem{Field: "F", Value: "*x"}},
		{"cased is ignored", []string{"contains", "cased"}, []any{"x"}, MapItem{Field: "F", Value: "*x*"}},
		{"number", nil, []any{4444}, MapItem{Field: "F", Value: "4444"}},
		{"bool", nil, []any{true}, MapItem{Field: "F", Value: "true"}},
		{"no value", nil, nil, MapItem{Field: "F", Value: ""}},
		{"exists", []string{"exists"}, []any{true}, MapItem{Field: "F", Value: NotNull{}}},
		{"exists false", []string{"exists"}, []any{false}, MapItem{Field: "F", Value: Null{}}},
		{"null", nil, []any{nil}, MapItem{Field: "F", Value: Null{}}},
		{
			"null or value", nil, []any{nil, "x"},
			Or{Children: []Node{MapItem{Field: "F", Value: Null{}}, MapItem{Field: "F", Value: "x"}}},
		},
		{
			"list", nil, []any{"a", "b"},
			MapItem{Field: "F", Value: []string{"a", "b"}},
		},
		{
			"base64", []string{"base64"}, []any{"whoami"},
			MapItem{Field: "F", Value: "d2hvYW1p"},
		},
		{
			"base64offset contains", []string{"base64offset", "contains"}, []any{"http"},
			MapItem{Field: "F", Value: []string{"*aHR0c*", "*h0dH*", "*odHRw*"}},
		},
		{
			"windash", []string{"windash"}, []any{"-enc"},
			MapItem{Field: "F", Value: []string{"-enc", "/enc", "–enc", "—enc", "―enc"}},
		},
		{
			"wide", []string{"wide"}, []any{"ab"},
			MapItem{Field: "F", Value: "a\x00b\x00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildFieldNode("F", tt.mods, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildFieldNodeUnsupported(t *testing.T) {
	for _, mod := range []string{"re", "cidr", "lt", "gte", "fieldref", "expand"} {
		t.Run(mod, func(t *testing.T) {
			_, err := buildFieldNode("F", []string{mod}, []any{"1"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsupportedModifier))
		})
	}
}

func TestWindashLeavesPlainValues(t *testing.T) {
	assert.Equal(t, []string{"whoami"}, windashVariants("whoami"))
	assert.Equal(t, []string{"a -x", "a /x", "a –x", "a —x", "a ―x"}, windashVariants("a -x"))
}

func TestStringDebugForm(t *testing.T) {
	n := And{Children: []Node{
		MapItem{Field: "Image", Value: "x"},
		Not{Child: MapItem{Field: "User", Value: []string{"a", "b"}}},
		MapItem{Field: "Hash", Value: NotNull{}},
		ListValue{Items: []string{"k1", "k2"}},
	}}
	assert.Equal(t, "AND(Image=x, NOT(User=[a,b]), Hash=*, LIST[k1,k2])", String(n))
}
