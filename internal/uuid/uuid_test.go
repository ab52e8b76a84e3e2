package uuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNew verifies generated ids are valid and distinct.
func TestNew(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		assert.True(t, IsValid(id), id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

// TestNewLocal verifies temporary ids carry the local prefix.
func TestNewLocal(t *testing.T) {
	id := NewLocal()
	assert.True(t, IsLocal(id))
	assert.False(t, IsLocal(New()))
	assert.False(t, IsLocal("local-not-a-uuid"))
}

// TestValidate verifies malformed ids are rejected.
func TestValidate(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"6ba7b810-9dad-41d1-80b4-00c04fd430c8", false},
		{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", true}, // v1
		{"6ba7b8109dad41d180b400c04fd430c8", true},
		{"", true},
	}
	for _, tt := range tests {
		err := Validate(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
		} else {
			assert.NoError(t, err, tt.in)
		}
	}
}
