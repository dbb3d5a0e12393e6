// Package otp generates numeric one-time passcodes.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Length is the number of digits in a generated code.
const Length = 6

var upperBound = big.NewInt(1_000_000)

// Generator produces verification codes.
type Generator interface {
	Generate() (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func() (string, error)

func (f GeneratorFunc) Generate() (string, error) { return f() }

// Default draws codes from crypto/rand.
var Default Generator = GeneratorFunc(Generate)

// Generate returns a uniformly random 6 digit code, zero padded.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, upperBound)
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%0*d", Length, n.Int64()), nil
}

// Fixed returns a Generator that always yields code.
func Fixed(code string) Generator {
	return GeneratorFunc(func() (string, error) { return code, nil })
}
