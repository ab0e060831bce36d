// Package code generates verification codes for each authentication type.
package code

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/strongholdauth/stronghold/internal/stepup/session"
)

// OptionCount is the size of the PIN_2D selection set shown to the user.
const OptionCount = 3

// Source supplies uniform random integers in [0, n). *rand.Rand from
// math/rand/v2 satisfies it, which keeps tests deterministic.
type Source interface {
	IntN(n int) int
}

type cryptoSource struct{}

func (cryptoSource) IntN(n int) int {
	value, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken, at which point serving auth traffic is unsafe anyway.
		panic(fmt.Sprintf("read random int: %v", err))
	}
	return int(value.Int64())
}

// Generator produces codes with the digit width of each auth type.
type Generator struct {
	src Source
}

// NewGenerator returns a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{src: cryptoSource{}}
}

// NewGeneratorWithSource returns a generator using the supplied source.
func NewGeneratorWithSource(src Source) *Generator {
	if src == nil {
		return NewGenerator()
	}
	return &Generator{src: src}
}

// Generate returns the verification code for authType. SILENT sessions
// carry no code; QR codes are opaque unique tokens rather than digits.
// Digit codes keep leading zeros, so the full padded range is reachable.
func (g *Generator) Generate(authType session.AuthType) string {
	switch authType {
	case session.AuthTypeQRCode:
		return uuid.NewString()
	case session.AuthTypeUserCode:
		return g.digits(6)
	case session.AuthTypePin2D:
		return g.digits(2)
	case session.AuthTypePin8D:
		return g.digits(8)
	default:
		return ""
	}
}

// Options builds the PIN_2D selection set: the correct code plus random
// unique decoys of the same shape, shuffled so the correct position is
// not predictable.
func (g *Generator) Options(correct string) []string {
	seen := map[string]struct{}{correct: {}}
	options := []string{correct}
	for len(options) < OptionCount {
		decoy := g.digits(2)
		if _, ok := seen[decoy]; ok {
			continue
		}
		seen[decoy] = struct{}{}
		options = append(options, decoy)
	}
	g.shuffle(options)
	return options
}

func (g *Generator) digits(width int) string {
	bound := 1
	for i := 0; i < width; i++ {
		bound *= 10
	}
	return fmt.Sprintf("%0*d", width, g.src.IntN(bound))
}

func (g *Generator) shuffle(values []string) {
	for i := len(values) - 1; i > 0; i-- {
		j := g.src.IntN(i + 1)
		values[i], values[j] = values[j], values[i]
	}
}
