package geocode

import "strings"

// Normalize converts a raw cell value into an AddressKey. It returns ok=false
// when value is not a string or is blank after trimming. Case and inner
// spacing are preserved, so near-duplicates do not share a key.
func Normalize(value any) (AddressKey, bool) {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case *string:
		if v == nil {
			return "", false
		}
		s = *v
	case AddressKey:
		s = string(v)
	default:
		return "", false
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return AddressKey(s), true
}
