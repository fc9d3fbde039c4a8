package password

// DefaultHistorySize is the number of prior hashes retained per credential.
const DefaultHistorySize = 5

// ReasonReused is returned by CanUse when the candidate matches a prior hash.
const ReasonReused = "password was used recently; choose a different password"

// CanUse reports whether candidate matches none of the hashes in history.
// Each comparison goes through the hasher, since salted hashes never compare
// equal as strings.
func CanUse(h Verifier, candidate string, history []string) (bool, string) {
	for _, prior := range history {
		if prior == "" {
			continue
		}
		if h.Verify(candidate, prior) {
			return false, ReasonReused
		}
	}
	return true, ""
}

// Push returns a new history with newHash first, truncated to n entries.
// A non-positive n selects DefaultHistorySize. The input slice is not
// modified.
func Push(history []string, newHash string, n int) []string {
	if n <= 0 {
		n = DefaultHistorySize
	}

	size := len(history) + 1
	if size > n {
		size = n
	}

	out := make([]string, 0, size)
	out = append(out, newHash)
	for _, h := range history {
		if len(out) == size {
			break
		}
		out = append(out, h)
	}
	return out
}

// Verifier is the subset of Hasher needed for reuse detection.
type Verifier interface {
	Verify(password, encodedHash string) bool
}
