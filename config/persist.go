package config

import "strings"

// PersistName derives the on-disk override file name for a site prefix
// URL, per spec.md §6: scheme and host separators are replaced with
// "-", dots with "_", any trailing "-" is trimmed, and ".config" is
// appended. This is the only persisted identifier the core consumes.
func PersistName(prefixURL string) string {
	return persistBase(prefixURL) + ".config"
}

// PersistNameByURL is the second form keyed by the full URL: the same
// derivation as PersistName, with "URL" prepended to the file name.
func PersistNameByURL(fullURL string) string {
	return "URL" + persistBase(fullURL) + ".config"
}

func persistBase(raw string) string {
	replacer := strings.NewReplacer(
		"://", "-",
		"/", "-",
		":", "-",
		".", "_",
	)
	name := replacer.Replace(raw)
	name = strings.TrimRight(name, "-")
	return name
}
