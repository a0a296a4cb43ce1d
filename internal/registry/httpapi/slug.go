package httpapi

import "regexp"

var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

func validSlug(s string) bool {
	if len(s) < 2 || len(s) > 64 {
		return false
	}
	return slugPattern.MatchString(s)
}
