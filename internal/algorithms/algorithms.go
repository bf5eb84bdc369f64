// package algorithms provides generified map/filter/reduce functions.
package algorithms

import "math/rand"

// Map applies the function f to each element of the slice and returns a new slice containing the results.
func Map[T, R any](s []T, f func(T) R) []R {
	r := make([]R, 0, len(s))
	for _, v := range s {
		r = append(r, f(v))
	}
	return r
}

// Filter returns a new slice containing all elements of the slice that satisfy the predicate function.
func Filter[T any](s []T, f func(T) bool) []T {
	r := make([]T, 0, len(s))
	for _, v := range s {
		if f(v) {
			r = append(r, v)
		}
	}
	return r
}

// Uniq returns the elements of s in their original order with duplicates removed.
func Uniq[T comparable](s []T) []T {
	seen := make(map[T]bool, len(s))
	r := make([]T, 0, len(s))
	for _, v := range s {
		if seen[v] {
			continue
		}
		seen[v] = true
		r = append(r, v)
	}
	return r
}

// Sample returns one element of s chosen uniformly at random.
// ok is false if s is empty.
func Sample[T any](rnd *rand.Rand, s []T) (v T, ok bool) {
	if len(s) == 0 {
		return v, false
	}
	return s[rnd.Intn(len(s))], true
}
