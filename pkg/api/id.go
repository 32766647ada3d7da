package api

import (
	"crypto/rand"
	"math/big"
	"regexp"

	"github.com/google/uuid"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	sessionIDPrefix = "sess_"
)

var sessionIDPattern = regexp.MustCompile(`^sess_[a-zA-Z0-9]{24}$`)

// NewRequestID returns a random UUID used to track one dispatched unit of
// work through logs, metrics and the in-flight registry.
func NewRequestID() string {
	return uuid.NewString()
}

// NewSessionID generates a session ID with the "sess_" prefix followed by
// 24 cryptographically random alphanumeric characters.
func NewSessionID() string {
	return sessionIDPrefix + randomAlphanumeric(idLength)
}

// ValidateSessionID checks whether id has the shape produced by NewSessionID.
func ValidateSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
