package password

import (
	"errors"
	"fmt"
	"strings"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// DefaultSpecials is the special-character class accepted by the default policy.
const DefaultSpecials = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// DefaultMinLength is the minimum password length in characters.
const DefaultMinLength = 8

// DefaultMaxLength is the maximum password length in characters.
const DefaultMaxLength = 128

// BcryptMaxBytes is the longest input bcrypt accepts.
const BcryptMaxBytes = 72

// Violation codes reported by Policy.Validate.
const (
	CodeMinLength = "min_length"
	CodeMaxLength = "max_length"
	CodeUppercase = "uppercase"
	CodeLowercase = "lowercase"
	CodeDigit     = "digit"
	CodeSpecial   = "special"
	CodeStrength  = "strength"
)

// Violation is a single failed policy rule.
type Violation struct {
	Code    string
	Message string
}

// Policy checks candidate passwords. Every rule is evaluated; Validate never
// stops at the first failure.
type Policy struct {
	MinLength int
	MaxLength int // characters; 0 uses DefaultMaxLength
	MaxBytes  int // encoded length cap of the hasher; 0 disables
	Specials  string

	// MinStrengthScore enables a zxcvbn score floor (1..4). Zero disables it.
	MinStrengthScore int
	UserInputs       []string
}

// DefaultPolicy returns the length 8, four-class policy.
func DefaultPolicy() Policy {
	return Policy{
		MinLength: DefaultMinLength,
		MaxLength: DefaultMaxLength,
		Specials:  DefaultSpecials,
	}
}

// MaxBytesFor returns the input cap of algorithm, or zero when it has none.
func MaxBytesFor(algorithm string) int {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", AlgorithmBcrypt:
		return BcryptMaxBytes
	}
	return 0
}

// Limit returns the longest ASCII password p accepts.
func (p Policy) Limit() int {
	limit := p.MaxLength
	if limit <= 0 {
		limit = DefaultMaxLength
	}
	if p.MaxBytes > 0 && p.MaxBytes < limit {
		limit = p.MaxBytes
	}
	return limit
}

// Validate reports whether password satisfies p along with every violation.
// Length is measured in characters, not bytes, except for the MaxBytes cap.
func (p Policy) Validate(password string) (bool, []Violation) {
	minLength := p.MinLength
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	specials := p.Specials
	if specials == "" {
		specials = DefaultSpecials
	}

	var violations []Violation

	maxLength := p.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	chars := len([]rune(password))
	if chars < minLength {
		violations = append(violations, Violation{
			Code:    CodeMinLength,
			Message: fmt.Sprintf("password must be at least %d characters long", minLength),
		})
	}
	switch {
	case chars > maxLength:
		violations = append(violations, Violation{
			Code:    CodeMaxLength,
			Message: fmt.Sprintf("password must be at most %d characters long", maxLength),
		})
	case p.MaxBytes > 0 && len(password) > p.MaxBytes:
		violations = append(violations, Violation{
			Code:    CodeMaxLength,
			Message: fmt.Sprintf("password must be at most %d bytes long", p.MaxBytes),
		})
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(specials, r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		violations = append(violations, Violation{Code: CodeUppercase, Message: "password must contain at least one uppercase letter"})
	}
	if !hasLower {
		violations = append(violations, Violation{Code: CodeLowercase, Message: "password must contain at least one lowercase letter"})
	}
	if !hasDigit {
		violations = append(violations, Violation{Code: CodeDigit, Message: "password must contain at least one number"})
	}
	if !hasSpecial {
		violations = append(violations, Violation{Code: CodeSpecial, Message: "password must contain at least one special character"})
	}

	if score := p.MinStrengthScore; score > 0 && password != "" {
		if score > 4 {
			score = 4
		}
		if zxcvbn.PasswordStrength(password, p.UserInputs).Score < score {
			violations = append(violations, Violation{Code: CodeStrength, Message: "password is too weak; choose a less predictable value"})
		}
	}

	return len(violations) == 0, violations
}

// Err collapses violations into one error, or nil when there are none.
func Err(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(violations))
	for _, v := range violations {
		msgs = append(msgs, v.Message)
	}
	return errors.New(strings.Join(msgs, "; "))
}
