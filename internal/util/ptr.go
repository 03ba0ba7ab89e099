package util

// Ptr returns a pointer to v, for optional fields such as default-features
func Ptr[T any](v T) *T {
	return &v
}
