package helpers

// StringPointer returns a pointer to s. Use it where nil and "" mean different things,
// like message content.
func StringPointer(s string) *string {
	return &s
}
