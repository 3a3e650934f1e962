// Package phone canonicalizes user-entered phone numbers into WhatsApp
// recipient addresses. All functions are pure and never fail: input that
// cannot be normalized is passed through unchanged and the transport's
// own send validation is left to reject it.
package phone

import "strings"

// DefaultCountryPrefix is applied to local-format numbers (leading zero)
// and to bare numbers that carry no country code.
const DefaultCountryPrefix = "62"

// addressSuffix is the WhatsApp user server suffix for direct chats.
const addressSuffix = "@s.whatsapp.net"

const (
	minDigits = 10
	maxDigits = 15
)

// Normalize strips non-digits from raw and applies the country prefix
// convention: a leading zero is replaced by prefix, and a number that does
// not start with prefix gets it prepended. The second return value is false
// when the cleaned number is outside the plausible length range; in that
// case raw is returned unchanged so the caller can decide how loud to warn.
func Normalize(raw, prefix string) (string, bool) {
	if prefix == "" {
		prefix = DefaultCountryPrefix
	}

	cleaned := digits(raw)
	if len(cleaned) < minDigits || len(cleaned) > maxDigits {
		return raw, false
	}

	if strings.HasPrefix(cleaned, "0") {
		return prefix + cleaned[1:], true
	}
	if !strings.HasPrefix(cleaned, prefix) {
		return prefix + cleaned, true
	}
	return cleaned, true
}

// ToAddressable converts raw into a fully qualified WhatsApp JID string.
func ToAddressable(raw, prefix string) string {
	normalized, _ := Normalize(raw, prefix)
	if strings.Contains(normalized, "@") {
		return normalized
	}
	return normalized + addressSuffix
}

// ParseTargets splits a comma-joined target list, trims whitespace, drops
// empty items, and normalizes each entry. Order is preserved. Kept for
// backward compatibility with single-field request shapes.
func ParseTargets(csv, prefix string) []string {
	var targets []string
	for part := range strings.SplitSeq(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		normalized, _ := Normalize(part, prefix)
		targets = append(targets, normalized)
	}
	return targets
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
