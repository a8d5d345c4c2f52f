package protocol

import "strings"

// NameEscape replaces spaces inside display names on the wire.
const NameEscape = "_"

// EscapeName makes a display name safe to send as a single token.
func EscapeName(name string) string {
	return strings.ReplaceAll(name, " ", NameEscape)
}

// UnescapeName restores the spaces of a display name read off the wire.
func UnescapeName(token string) string {
	return strings.ReplaceAll(token, NameEscape, " ")
}
