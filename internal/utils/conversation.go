package utils

import (
	"errors"
	"strings"
)

// ErrInvalidParticipant is returned when identity resolution is
// attempted with an empty participant id, typically before
// authentication has completed.
var ErrInvalidParticipant = errors.New("invalid participant")

// ResolveDirectConversationID maps a pair of user ids to the canonical
// direct-conversation id: the two ids in lexicographic order joined
// with "_". Commutative in its inputs and requires no lookup, so both
// sides always resolve the same id.
func ResolveDirectConversationID(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", ErrInvalidParticipant
	}
	if a < b {
		return a + "_" + b, nil
	}
	return b + "_" + a, nil
}

// DirectConversationPeer extracts the other participant from a direct
// conversation id the caller belongs to.
func DirectConversationPeer(convID, callerUID string) (string, error) {
	if callerUID == "" {
		return "", ErrInvalidParticipant
	}
	i := strings.IndexByte(convID, '_')
	if i <= 0 || i == len(convID)-1 {
		return "", ErrInvalidParticipant
	}
	a, b := convID[:i], convID[i+1:]
	switch callerUID {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", ErrInvalidParticipant
}
