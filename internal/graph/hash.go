package graph

import "github.com/segmentio/fasthash/fnv1a"

// HashCommand combines the evaluated command and (if the rule uses one) the
// response-file content into one 64-bit fingerprint. A byte changing in
// either invalidates the hash, and the same inputs always produce the same
// output — the two properties §9's open question asks for.
func HashCommand(command, rspfileContent string) uint64 {
	h := fnv1a.Init64
	h = fnv1a.AddString64(h, command)
	if rspfileContent != "" {
		h = fnv1a.AddUint64(h, ';')
		h = fnv1a.AddString64(h, rspfileContent)
	}
	return h
}
