package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"studylib/internal/constants"
)

// OTPGenerator issues fixed-length numeric verification codes.
type OTPGenerator struct {
	ttl time.Duration
	now func() time.Time
}

func NewOTPGenerator(ttl time.Duration) *OTPGenerator {
	return &OTPGenerator{ttl: ttl, now: time.Now}
}

// WithClock returns a copy of the generator that reads time from now.
func (g *OTPGenerator) WithClock(now func() time.Time) *OTPGenerator {
	return &OTPGenerator{ttl: g.ttl, now: now}
}

// Generate returns a zero-padded code of constants.OTPLength digits and
// the instant it stops being valid.
func (g *OTPGenerator) Generate() (string, time.Time, error) {
	max := big.NewInt(1)
	for i := 0; i < constants.OTPLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generating random code: %w", err)
	}
	return fmt.Sprintf("%0*d", constants.OTPLength, n.Int64()), g.now().Add(g.ttl), nil
}

func (g *OTPGenerator) TTL() time.Duration {
	return g.ttl
}

// CodesEqual compares two codes in constant time.
func CodesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
