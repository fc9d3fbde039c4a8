package password

import (
	"errors"
	"strings"
)

// Algorithm names accepted by Config.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// Hasher is a one-way, salted password hashing scheme.
//
// Verify must not distinguish a malformed hash from a wrong password.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) bool
	NeedsRehash(encodedHash string) bool
}

// Config selects and tunes the primary hashing algorithm.
type Config struct {
	Algorithm  string
	BcryptCost int
	Argon2     Argon2Config
}

// New builds the configured primary hasher. The returned Hasher verifies
// hashes produced by either supported algorithm, so stored credentials keep
// working after the algorithm is switched; NeedsRehash flags them for
// upgrade on the next successful login.
func New(cfg Config) (Hasher, error) {
	var primary Hasher

	switch strings.ToLower(strings.TrimSpace(cfg.Algorithm)) {
	case "", AlgorithmBcrypt:
		b, err := NewBcrypt(cfg.BcryptCost)
		if err != nil {
			return nil, err
		}
		primary = b
	case AlgorithmArgon2id:
		a, err := NewArgon2(cfg.Argon2)
		if err != nil {
			return nil, err
		}
		primary = a
	default:
		return nil, errors.New("unsupported password hashing algorithm")
	}

	return &dualHasher{primary: primary}, nil
}

type dualHasher struct {
	primary Hasher
}

func (d *dualHasher) Hash(password string) (string, error) {
	return d.primary.Hash(password)
}

func (d *dualHasher) Verify(password, encodedHash string) bool {
	switch {
	case isBcryptHash(encodedHash):
		return verifyBcrypt(password, encodedHash)
	case strings.HasPrefix(encodedHash, argon2Prefix):
		return verifyArgon2(password, encodedHash)
	default:
		return false
	}
}

func (d *dualHasher) NeedsRehash(encodedHash string) bool {
	return d.primary.NeedsRehash(encodedHash)
}
