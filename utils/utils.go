package utils

import "net/url"

// Str coerces an any value decoded from JSON into a string, returning ""
// for anything that isn't one.
func Str(v any) string {
	s, _ := v.(string)
	return s
}

// UrlQuery escapes a string for use in a URL query component.
func UrlQuery(s string) string {
	return url.QueryEscape(s)
}
