package account

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// randomPasswordBytes encodes to a 24-character base64 string.
const randomPasswordBytes = 16

// HashPassword returns the lower-case hex SHA-256 digest of password
// (64 characters). It is deterministic.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// GenerateRandomPassword returns 16 cryptographically random bytes, base64
// encoded. Used for resets and temporary credentials.
func GenerateRandomPassword() (string, error) {
	buf := make([]byte, randomPasswordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func isBcryptHash(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}

// passwordMatches compares password against a stored hash. Hex digests are
// compared case-insensitively since stored casing is not guaranteed.
func passwordMatches(stored, password string) bool {
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return strings.EqualFold(stored, HashPassword(password))
}

// hashFor produces the stored form for a new password.
func (s *Service) hashFor(password string) (string, error) {
	if s.bcryptCost > 0 {
		h, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
		if err != nil {
			return "", err
		}
		return string(h), nil
	}
	return HashPassword(password), nil
}
