package idem

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidKey(t *testing.T) {
	v4 := uuid.NewString()

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"v4", v4, true},
		{"v4 upper case", strings.ToUpper(v4), true},
		{"empty", "", false},
		{"garbage", "not-a-uuid", false},
		{"v1", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", false},
		{"nil uuid", uuid.Nil.String(), false},
		{"too short", v4[:35], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidKey(tt.key))
		})
	}
}

func TestCanonicalKey(t *testing.T) {
	v4 := uuid.NewString()

	key, ok := canonicalKey(strings.ToUpper(v4))
	assert.True(t, ok)
	assert.Equal(t, v4, key)

	key, ok = canonicalKey("bogus")
	assert.False(t, ok)
	assert.Empty(t, key)
}
