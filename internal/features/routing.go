package features

import (
	"regexp"
	"strings"
)

// routingCodePattern is four letters, a literal zero, then six alphanumerics.
var routingCodePattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)

// ValidRoutingCode checks an institution routing code, ignoring case.
func ValidRoutingCode(code string) bool {
	code = strings.ToUpper(code)
	return len(code) == 11 && routingCodePattern.MatchString(code)
}
