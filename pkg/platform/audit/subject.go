package audit

import (
	"encoding/hex"
	"errors"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Pseudonymizer turns user ids into stable keyed digests so audit consumers
// can correlate events for one user without learning the platform id.
type Pseudonymizer struct {
	key []byte
}

// NewPseudonymizer builds a pseudonymizer. blake2b accepts keys up to 64 bytes.
func NewPseudonymizer(key []byte) (*Pseudonymizer, error) {
	if len(key) > blake2b.Size {
		return nil, errors.New("audit: pseudonymization key longer than 64 bytes")
	}
	return &Pseudonymizer{key: key}, nil
}

// Subject returns the hex digest for a user id. Zero ids map to "".
func (p *Pseudonymizer) Subject(userID int64) string {
	if userID == 0 {
		return ""
	}
	h, err := blake2b.New256(p.key)
	if err != nil {
		return ""
	}
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
