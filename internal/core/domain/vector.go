package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Vec3 is a right-handed 3-component vector used for positions, Euler
// rotations, scales and bounding-box sizes.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func V3(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

// One is the identity scale.
func One() Vec3 { return Vec3{X: 1, Y: 1, Z: 1} }

func (v Vec3) IsZero() bool { return v.X == 0 && v.Y == 0 && v.Z == 0 }

// Mul multiplies per axis.
func (v Vec3) Mul(o Vec3) Vec3 { return Vec3{X: v.X * o.X, Y: v.Y * o.Y, Z: v.Z * o.Z} }

// Scale multiplies all axes by a scalar.
func (v Vec3) Scale(f float64) Vec3 { return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f} }

func (v Vec3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

// CoerceVec3 accepts the three wire encodings callers send for vectors:
// an ordered 3-element sequence, an object with x/y/z fields, or a
// delimited string like "1, 2, 3" (optionally bracketed). It returns the
// fallback and false when the value cannot be parsed; it never fails hard.
func CoerceVec3(value any, fallback Vec3) (Vec3, bool) {
	switch v := value.(type) {
	case nil:
		return fallback, false
	case Vec3:
		return v, true
	case []float64:
		if len(v) >= 3 {
			return Vec3{X: v[0], Y: v[1], Z: v[2]}, true
		}
	case []any:
		if len(v) >= 3 {
			x, okX := toFloat(v[0])
			y, okY := toFloat(v[1])
			z, okZ := toFloat(v[2])
			if okX && okY && okZ {
				return Vec3{X: x, Y: y, Z: z}, true
			}
		}
	case map[string]any:
		x, okX := toFloat(v["x"])
		y, okY := toFloat(v["y"])
		z, okZ := toFloat(v["z"])
		if okX || okY || okZ {
			return Vec3{X: x, Y: y, Z: z}, true
		}
	case string:
		s := strings.TrimSpace(v)
		s = strings.TrimPrefix(s, "[")
		s = strings.TrimSuffix(s, "]")
		s = strings.TrimPrefix(s, "(")
		s = strings.TrimSuffix(s, ")")
		parts := strings.Split(s, ",")
		if len(parts) >= 3 {
			x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			z, errZ := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
			if errX == nil && errY == nil && errZ == nil {
				return Vec3{X: x, Y: y, Z: z}, true
			}
		}
	}
	return fallback, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
