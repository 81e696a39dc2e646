// Package fingerprint computes the SHA-256 digests used for change
// detection and event identity.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Of hashes an ordered segment sequence. Every segment is framed as
// "<len>:<bytes>," so no two distinct sequences share a byte stream.
func Of(segments []string) string {
	h := sha256.New()
	for _, s := range segments {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
		h.Write([]byte{','})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Identity is the stable identity of a finding: title, ISO date and price,
// each lower-cased with whitespace collapsed.
func Identity(title, dateISO, price string) string {
	return Of([]string{normalize(title), normalize(dateISO), normalize(price)})
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
