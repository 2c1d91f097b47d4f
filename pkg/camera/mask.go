package camera

import "regexp"

// userinfoPattern matches scheme://user:password@ anywhere in a string so
// URLs embedded in error messages are masked too.
var userinfoPattern = regexp.MustCompile(`([A-Za-z][A-Za-z0-9+.\-]*://[^:/@\s]*):([^@\s/]*)@`)

// MaskCredentials replaces every URL password in s with "***", keeping the
// username. Strings without credentials are returned unchanged.
func MaskCredentials(s string) string {
	return userinfoPattern.ReplaceAllString(s, "$1:***@")
}
