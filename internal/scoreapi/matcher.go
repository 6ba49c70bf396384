package scoreapi

import "strings"

// Matches decides whether a remote-reported display name refers to the locally
// known one. The remote system is inconsistent about spacing and sometimes
// reports partial names, so the policy is deliberately permissive: exact match
// after normalization, substring either way, or (for names longer than two
// characters) a two-character prefix of one contained in the other. False
// positives are accepted in exchange for recall.
func Matches(localName, remoteName string) bool {
	n1 := normalizeName(localName)
	n2 := normalizeName(remoteName)
	if n1 == "" || n2 == "" {
		return false
	}

	if n1 == n2 || strings.Contains(n1, n2) || strings.Contains(n2, n1) {
		return true
	}

	// Prefixes are taken per character, not per byte, so multibyte names
	// compare the same way their display form reads.
	r1 := []rune(n1)
	r2 := []rune(n2)
	if len(r1) > 2 && len(r2) > 2 {
		if strings.Contains(n1, string(r2[:2])) || strings.Contains(n2, string(r1[:2])) {
			return true
		}
	}

	return false
}

func normalizeName(name string) string {
	lower := strings.ToLower(name)
	var sb strings.Builder
	for _, r := range lower {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
