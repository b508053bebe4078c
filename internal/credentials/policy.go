package credentials

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// UnsafeCharacters break a postgresql:// URL or a shell word when left
// unescaped. They are excluded from every generated password.
const UnsafeCharacters = "\"@/:?#[]%'\\ "

const (
	lowercase   = "abcdefghijklmnopqrstuvwxyz"
	uppercase   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits      = "0123456789"
	punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

const (
	minPasswordLength = 16
	maxPasswordLength = 128
)

// PasswordPolicy constrains generated passwords. It is honoured both by
// GeneratePassword and by the deploy-time generator.
type PasswordPolicy struct {
	Length             int    `json:"length" yaml:"length"`
	ExcludePunctuation bool   `json:"excludePunctuation" yaml:"excludePunctuation"`
	IncludeSpace       bool   `json:"includeSpace" yaml:"includeSpace"`
	ExcludeCharacters  string `json:"excludeCharacters,omitempty" yaml:"excludeCharacters,omitempty"`
}

// DefaultPasswordPolicy is alphanumeric, 32 characters.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		Length:             32,
		ExcludePunctuation: true,
		ExcludeCharacters:  UnsafeCharacters,
	}
}

// Effective returns the policy with the unsafe characters always excluded
// and spaces always off.
func (p PasswordPolicy) Effective() PasswordPolicy {
	excluded := p.ExcludeCharacters
	for _, r := range UnsafeCharacters {
		if !strings.ContainsRune(excluded, r) {
			excluded += string(r)
		}
	}
	p.ExcludeCharacters = excluded
	p.IncludeSpace = false
	return p
}

// Validate checks the length bounds and that the alphabet is not empty.
func (p PasswordPolicy) Validate() error {
	if p.Length < minPasswordLength || p.Length > maxPasswordLength {
		return fmt.Errorf("password length %d is outside %d-%d", p.Length, minPasswordLength, maxPasswordLength)
	}
	if len(p.Alphabet()) < 10 {
		return fmt.Errorf("password policy leaves too few characters to choose from")
	}
	return nil
}

// Alphabet is the set of characters a generated password may contain.
func (p PasswordPolicy) Alphabet() string {
	p = p.Effective()
	set := lowercase + uppercase + digits
	if !p.ExcludePunctuation {
		set += punctuation
	}
	var b strings.Builder
	for _, r := range set {
		if !strings.ContainsRune(p.ExcludeCharacters, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Allows reports whether s could have been produced under the policy.
func (p PasswordPolicy) Allows(s string) bool {
	if len(s) != p.Length {
		return false
	}
	alphabet := p.Alphabet()
	for _, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}

// GeneratePassword draws a password from crypto/rand.
func GeneratePassword(p PasswordPolicy) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	alphabet := p.Alphabet()
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, p.Length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
