package ice

import "github.com/google/uuid"

// randToken generates an ICE ufrag/password credential of length n
// (RFC 5245 §15.4 requires at least 4/22 characters respectively); we derive
// it from a uuid so no separate CSPRNG wiring is needed at this layer.
func randToken(n int) string {
	s := uuid.NewString()
	for len(s) < n {
		s += uuid.NewString()
	}
	return s[:n]
}
