// Package ptrs provides a helper to take the address of a value in one expression.
package ptrs

// Ptr is the "&x" you always wanted, for any literal.
func Ptr[T any](val T) *T {
	return &val
}
