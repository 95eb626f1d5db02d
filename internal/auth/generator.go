package auth

import (
	"encoding/base32"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

const (
	// counterResetAt is the counter value after which the sequence restarts at 1.
	counterResetAt = 1000
	// jitterSpan is the number of HOTP positions reserved per counter step.
	jitterSpan = 1000
)

// CodeGenerator produces six-digit HOTP codes. The HOTP position is derived
// from a monotonically increasing counter plus random jitter within the
// counter's own span, so positions never repeat inside one counter cycle and
// the sequence is not predictable from the counter alone.
type CodeGenerator struct {
	secret  string
	counter atomic.Uint64
	resetAt uint64
	jitter  func(n int) int
}

// NewCodeGenerator creates a generator seeded with the server OTP secret.
func NewCodeGenerator(secret string) *CodeGenerator {
	return &CodeGenerator{
		secret:  base32.StdEncoding.EncodeToString([]byte(secret)),
		resetAt: counterResetAt,
		jitter:  rand.IntN,
	}
}

// Next returns a fresh code.
func (g *CodeGenerator) Next() (string, error) {
	step := g.step()
	position := step*jitterSpan + uint64(g.jitter(jitterSpan))
	code, err := hotp.GenerateCodeCustom(g.secret, position, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate hotp: %w", err)
	}
	return code, nil
}

// step advances the counter, wrapping to 1 once it passes resetAt.
func (g *CodeGenerator) step() uint64 {
	for {
		cur := g.counter.Load()
		next := cur + 1
		if next > g.resetAt {
			next = 1
		}
		if g.counter.CompareAndSwap(cur, next) {
			return next
		}
	}
}
