// Package passhash derives one-way password hashes with argon2id.
//
// Hashes are deterministic for a given pepper and parameter set: hashing the
// same plaintext twice yields the same encoded string. The encoding carries
// its own parameters so a stored hash stays verifiable after the defaults
// change.
package passhash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned when a stored hash cannot be decoded.
var ErrMalformedHash = errors.New("malformed password hash")

// Params are the argon2id cost parameters.
type Params struct {
	Time    uint32 // passes
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultParams returns the RFC 9106 second recommended option, scaled for an
// interactive desktop login.
func DefaultParams() Params {
	return Params{Time: 3, Memory: 64 * 1024, Threads: 2, KeyLen: 32}
}

// Hasher hashes and verifies passwords with a fixed pepper.
type Hasher struct {
	salt   []byte
	params Params
}

// New returns a Hasher. The pepper is an installation secret; an empty
// pepper is allowed but weakens the hash against precomputed tables.
func New(pepper string, params Params) *Hasher {
	sum := sha256.Sum256([]byte("devwatch/passhash:" + pepper))
	return &Hasher{salt: sum[:16], params: params}
}

// Hash returns the encoded hash of plain.
func (h *Hasher) Hash(plain string) string {
	key := argon2.IDKey([]byte(plain), h.salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	return encode(h.params, key)
}

// Verify reports whether plain matches the encoded hash. The comparison is
// constant time.
func (h *Hasher) Verify(plain, encoded string) (bool, error) {
	p, want, err := decode(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(plain), h.salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func encode(p Params, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(key))
}

func decode(encoded string) (Params, []byte, error) {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", key
	if len(parts) != 5 || parts[1] != "argon2id" {
		return Params{}, nil, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, parts[2])
	}
	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return Params{}, nil, fmt.Errorf("%w: parameters: %v", ErrMalformedHash, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(key) == 0 {
		return Params{}, nil, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	p.KeyLen = uint32(len(key))
	return p, key, nil
}
