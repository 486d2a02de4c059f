// Package cos provides common low-level types and utilities shared by this
// module's packages: byte-size constants, typed errors, ID generation, and
// a close-once signal channel.
package cos

import (
	"strconv"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

// Alphabet for generating IDs: the same 64 characters as
// shortid.DEFAULT_ABC, in a different order.
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const LenShortID = 9 // as per https://github.com/teris-io/shortid#id-length

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
)

func initShortID() {
	sid = shortid.MustNew(4 /*worker*/, uuidABC, 1)
}

// GenID returns a short, locally-unique, globally-improbable ID, used for
// connection, endpoint and probe-session identifiers.
func GenID() string {
	sidOnce.Do(initShortID)
	return sid.MustGenerate()
}

func IsValidID(id string) bool { return len(id) >= LenShortID }

// HashKey64 hashes an arbitrary string key (e.g. a connection's
// (local-bind, remote, direction) tuple) into a uint64 suitable for use as
// a registry/sharded-map key, replacing a slower fnv/maphash computation.
func HashKey64(s string) uint64 {
	return xxhash.Checksum64S([]byte(s), 0)
}

// HashKeyN shards a hashed key into one of n buckets.
func HashKeyN(s string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(HashKey64(s) % uint64(n))
}

func FormatUint64(v uint64) string { return strconv.FormatUint(v, 10) }
