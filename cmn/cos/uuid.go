// Package cos provides common low-level types and utilities shared by the
// wire, transport, dispatch, streaming, session and channel packages.
/*
 * Adapted from the teacher's cmn/cos package (GenUUID/HashK8sProxyID).
 */
package cos

import (
	"strconv"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

// Alphabet for generated IDs, same choice as the teacher's uuidABC: avoids
// characters that are awkward in log lines or URLs.
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const LenShortID = 9

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

func init() {
	// worker=1 and a fixed seed of 0: one generator per process, seeded
	// the same way in every process.
	sid = shortid.MustNew(1, uuidABC, 0)
}

// GenUUID generates a short, globally-unique-enough identifier used for
// both CallIDs (wire package) and ChannelIDs (channel package). It never
// starts or ends on '-'/'_' so it is always safe to embed in log lines.
func GenUUID() string {
	uuid := sid.MustGenerate()
	var h, t string
	if !isAlpha(uuid[0]) {
		tie := int(rtie.Add(1))
		h = string(rune('A' + tie%26))
	}
	if c := uuid[len(uuid)-1]; c == '-' || c == '_' {
		tie := int(rtie.Add(1))
		t = string(rune('a' + tie%26))
	}
	return h + uuid + t
}

func IsValidUUID(uuid string) bool {
	return len(uuid) >= LenShortID && IsAlphaNice(uuid)
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsAlphaNice reports whether s contains only letters, digits, '-' and '_',
// and does not start or end on a separator.
func IsAlphaNice(s string) bool {
	l := len(s)
	if l == 0 || l > 32 {
		return false
	}
	for i := range l {
		c := s[i]
		if isAlpha(c) || (c >= '0' && c <= '9') {
			continue
		}
		if c != '-' && c != '_' {
			return false
		}
		if i == 0 || i == l-1 {
			return false
		}
	}
	return true
}

// StripeOf hashes key (typically a CallID) into one of n stripes, used by
// the dispatcher's striped CallID->Operation map (spec: "or a striped map
// if contention warrants").
func StripeOf(key string, n int) int {
	if n <= 1 {
		return 0
	}
	digest := xxhash.Checksum64S([]byte(key), 0)
	return int(digest % uint64(n))
}

// Itoa36 renders v in base36, used for compact human-diffable ids in logs.
func Itoa36(v uint64) string { return strconv.FormatUint(v, 36) }
