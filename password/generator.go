package password

import (
	"crypto/rand"
	"math/big"
)

// DefaultGeneratedLength is used by Generate when length is zero.
const DefaultGeneratedLength = 12

const (
	upperChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars = "abcdefghijklmnopqrstuvwxyz"
	digitChars = "0123456789"
)

// Generate returns a random password that satisfies DefaultPolicy.
func Generate(length int) (string, error) {
	return GenerateWithMin(length, DefaultMinLength)
}

// GenerateWithMin returns a random password of at least minLength and at
// most DefaultMaxLength characters.
func GenerateWithMin(length, minLength int) (string, error) {
	return GenerateBounded(length, minLength, DefaultMaxLength)
}

// GenerateBounded returns a random password whose length is clamped to
// [minLength, maxLength] and which contains one character from each required
// class. The result is shuffled with crypto/rand so class positions are not
// predictable. Output is ASCII, so characters and bytes agree.
func GenerateBounded(length, minLength, maxLength int) (string, error) {
	if length == 0 {
		length = DefaultGeneratedLength
	}
	if minLength < 4 {
		minLength = 4
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if maxLength < minLength {
		maxLength = minLength
	}
	if length < minLength {
		length = minLength
	}
	if length > maxLength {
		length = maxLength
	}

	out := make([]byte, 0, length)
	for _, class := range []string{upperChars, lowerChars, digitChars, DefaultSpecials} {
		c, err := pick(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	const alphabet = upperChars + lowerChars + digitChars + DefaultSpecials
	for len(out) < length {
		c, err := pick(alphabet)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	for i := len(out) - 1; i > 0; i-- {
		j, err := randIndex(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

func pick(set string) (byte, error) {
	i, err := randIndex(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
