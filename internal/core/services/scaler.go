package services

import (
	"math"
	"sort"

	"meshforge/internal/core/domain"
)

const (
	// Axes smaller than this are treated as degenerate; we never divide by
	// a near-zero bound.
	degenerateEpsilon = 1e-5

	minUniformFactor = 0.05
	maxUniformFactor = 20.0

	medianWeight     = 0.65
	volumetricWeight = 0.35

	// Original scales whose axes deviate from their mean by more than this
	// fraction are considered anisotropic and get a per-axis shape weight.
	anisotropyThreshold = 0.20

	minShapeWeight = 0.25
	maxShapeWeight = 4.0
)

// ComputeReplacementScale derives the scale for a replacement mesh so it
// keeps the visual footprint of the entity it replaces, even when the two
// meshes have different native sizes.
//
// The uniform factor blends the median of the per-axis original/new bound
// ratios with the cube root of the volume ratio. If the original entity's
// own scale was markedly anisotropic, a per-axis shape weight derived from
// that anisotropy is applied on top; otherwise the factor is uniform.
func ComputeReplacementScale(prefabBase, newBounds, originalBounds, originalScale domain.Vec3) domain.Vec3 {
	if degenerate(newBounds) || degenerate(originalBounds) {
		if !degenerate(originalScale) {
			return originalScale
		}
		return prefabBase
	}

	rx := originalBounds.X / newBounds.X
	ry := originalBounds.Y / newBounds.Y
	rz := originalBounds.Z / newBounds.Z
	median := median3(rx, ry, rz)

	volOriginal := originalBounds.X * originalBounds.Y * originalBounds.Z
	volNew := newBounds.X * newBounds.Y * newBounds.Z
	volumetric := math.Cbrt(volOriginal / volNew)

	uniform := medianWeight*median + volumetricWeight*volumetric
	uniform = clamp(uniform, minUniformFactor, maxUniformFactor)

	weights := shapeWeights(originalScale)
	return prefabBase.Mul(weights.Scale(uniform))
}

// shapeWeights returns the per-axis anisotropy weights of a scale vector,
// or the identity when the scale is close enough to isotropic.
func shapeWeights(scale domain.Vec3) domain.Vec3 {
	mean := (scale.X + scale.Y + scale.Z) / 3
	if mean <= degenerateEpsilon {
		return domain.One()
	}
	anisotropic := math.Abs(scale.X-mean) > anisotropyThreshold*mean ||
		math.Abs(scale.Y-mean) > anisotropyThreshold*mean ||
		math.Abs(scale.Z-mean) > anisotropyThreshold*mean
	if !anisotropic {
		return domain.One()
	}
	return domain.Vec3{
		X: clamp(scale.X/mean, minShapeWeight, maxShapeWeight),
		Y: clamp(scale.Y/mean, minShapeWeight, maxShapeWeight),
		Z: clamp(scale.Z/mean, minShapeWeight, maxShapeWeight),
	}
}

func degenerate(v domain.Vec3) bool {
	return v.X < degenerateEpsilon || v.Y < degenerateEpsilon || v.Z < degenerateEpsilon
}

func median3(a, b, c float64) float64 {
	vals := []float64{a, b, c}
	sort.Float64s(vals)
	return vals[1]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
