package mathx

import "golang.org/x/exp/constraints"

// Scale maps x in [inMin,inMax] linearly onto [outMin,outMax].
// Inputs outside the range clamp to the nearest output bound, NaN to outMin.
func Scale[T constraints.Float](x, inMin, inMax, outMin, outMax T) T {
	if inMax == inMin {
		return outMin
	}
	if x != x || x <= inMin {
		return outMin
	}
	if x >= inMax {
		return outMax
	}
	return outMin + (x-inMin)*(outMax-outMin)/(inMax-inMin)
}

// Poly evaluates c[0]*x^(n-1) + ... + c[n-1] using Horner's rule.
func Poly[T constraints.Float](x T, c ...T) T {
	var acc T
	for _, k := range c {
		acc = acc*x + k
	}
	return acc
}
