package idem

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, `{}`},
		{"empty bytes", []byte("  "), `{}`},
		{"json null", []byte("null"), `{}`},
		{"sorted keys", []byte(`{"b":1,"a":{"d":2,"c":3}}`), `{"a":{"c":3,"d":2},"b":1}`},
		{"map", map[string]any{"name": "John", "age": 30}, `{"age":30,"name":"John"}`},
		{"number literal kept", []byte(`{"n":1.50}`), `{"n":1.50}`},
		{"no html escaping", []byte(`{"q":"<a&b>"}`), `{"q":"<a&b>"}`},
		{"arrays keep order", []byte(`{"tags":["b","a"]}`), `{"tags":["b","a"]}`},
		{"nfc", []byte("{\"name\":\"Jose\u0301\"}"), "{\"name\":\"Jos\u00e9\"}"},
		{"raw message", json.RawMessage(`{"x":true,"y":null}`), `{"x":true,"y":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCanonicalize_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"broken json", []byte(`{"a":`)},
		{"trailing data", []byte(`{"a":1} {"b":2}`)},
		{"unsupported type", map[string]any{"ch": make(chan int)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Canonicalize(tt.input)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestRecordMatches(t *testing.T) {
	stored, err := Canonicalize([]byte(`{"user":{"name":"John","email":"j@example.com"}}`))
	require.NoError(t, err)
	rec := &Record{RequestMethod: "POST", RequestPath: "/users", RequestParams: stored}

	reordered, err := Canonicalize([]byte(`{"user":{"email":"j@example.com","name":"John"}}`))
	require.NoError(t, err)
	changed, err := Canonicalize([]byte(`{"user":{"name":"Jane","email":"j@example.com"}}`))
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		params []byte
		want   bool
	}{
		{"same params", "POST", "/users", stored, true},
		{"reordered keys", "POST", "/users", reordered, true},
		{"different params", "POST", "/users", changed, false},
		{"different method", "PUT", "/users", stored, false},
		{"different path", "POST", "/posts", stored, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rec.Matches(tt.method, tt.path, tt.params))
		})
	}
}
