package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoerceVec3_Encodings(t *testing.T) {
	fallback := One()

	tests := []struct {
		name  string
		value any
		want  Vec3
		ok    bool
	}{
		{"float slice", []float64{1, 2, 3}, V3(1, 2, 3), true},
		{"any slice", []any{float64(1), 2, "3.5"}, V3(1, 2, 3.5), true},
		{"object", map[string]any{"x": 1.0, "y": 2.0, "z": 3.0}, V3(1, 2, 3), true},
		{"partial object", map[string]any{"y": 4.0}, V3(0, 4, 0), true},
		{"plain string", "1, 2, 3", V3(1, 2, 3), true},
		{"bracketed string", "[0.5, -1, 2]", V3(0.5, -1, 2), true},
		{"parenthesized string", "(7,8,9)", V3(7, 8, 9), true},
		{"already a vec", V3(4, 5, 6), V3(4, 5, 6), true},
		{"nil", nil, fallback, false},
		{"garbage string", "not a vector", fallback, false},
		{"short slice", []float64{1, 2}, fallback, false},
		{"empty object", map[string]any{}, fallback, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceVec3(tt.value, fallback)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceVec3_JSONNumbers(t *testing.T) {
	// Decoders configured with UseNumber hand us json.Number values.
	raw := []any{json.Number("1.5"), json.Number("2"), json.Number("-3")}
	got, ok := CoerceVec3(raw, Vec3{})
	assert.True(t, ok)
	assert.Equal(t, V3(1.5, 2, -3), got)
}

func TestVec3Helpers(t *testing.T) {
	assert.True(t, Vec3{}.IsZero())
	assert.False(t, V3(0, 1, 0).IsZero())
	assert.Equal(t, V3(2, 6, 12), V3(1, 2, 3).Mul(V3(2, 3, 4)))
	assert.Equal(t, V3(2, 4, 6), V3(1, 2, 3).Scale(2))
	assert.Equal(t, "(1, 2.5, -3)", V3(1, 2.5, -3).String())
}
