package templating

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Casers keep state between calls, so each invocation gets a fresh one.

// upper returns s in upper case.
func upper(s string) string {
	return cases.Upper(language.Und).String(s)
}

// lower returns s in lower case.
func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

// title capitalizes the first letter of every word in s.
func title(s string) string {
	return cases.Title(language.Und).String(s)
}

// trim removes leading and trailing white space.
func trim(s string) string {
	return strings.TrimSpace(s)
}

func makeFilterMap() map[string]func(string) string {
	return map[string]func(string) string{
		"upper": upper,
		"lower": lower,
		"title": title,
		"trim":  trim,
	}
}
