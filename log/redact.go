package log

// RedactString keeps the first and last few characters of a secret so log
// records stay correlatable without leaking the value itself.
func RedactString(s string) string {
	const keep = 4
	if len(s) <= keep*2 {
		return "<redacted>"
	}
	return s[:keep] + "..." + s[len(s)-keep:]
}
