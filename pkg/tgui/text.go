package tgui

// Trunc returns s cut to at most n runes, followed by ellipsis when it was cut.
func Trunc(s string, n int, ellipsis string) string {
	if n < 0 {
		n = 0
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + ellipsis
		}
		count++
	}
	return s
}
