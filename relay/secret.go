package relay

import "strings"

// Webhook subscriptions are the only place the platform lets us stash routing
// context, so the room id rides in the subscription secret and the person id
// in its name. Both use a fixed format whose final whitespace-delimited token
// is the identifier; resolution compares that token for exact equality, never
// substring containment, so identifiers that prefix each other cannot
// mis-match.

// EncodeSecret builds the subscription secret carrying the room id.
func EncodeSecret(roomTitle, roomID string) string {
	return "for space: " + roomTitle + ", id: " + roomID
}

// EncodeName builds the subscription name carrying the authorizing person id.
func EncodeName(displayName, personID string) string {
	return "authorized by " + displayName + ": " + personID
}

// ParseRoomID extracts the room id from a subscription secret. Returns ""
// when the secret carries no token.
func ParseRoomID(secret string) string {
	return lastToken(secret)
}

// ParsePersonID extracts the person id from a subscription name.
func ParsePersonID(name string) string {
	return lastToken(name)
}

func lastToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if i := strings.LastIndexAny(s, " \t"); i >= 0 {
		return s[i+1:]
	}
	return s
}
