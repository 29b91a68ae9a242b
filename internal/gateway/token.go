package gateway

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// routeTokenBytes gives 192 bits of entropy per token, comfortably past the
// 128-bit floor needed to make guessing a live route infeasible.
const routeTokenBytes = 24

// TokenGenerator produces unguessable, URL-path-safe route tokens.
type TokenGenerator struct{}

func (TokenGenerator) Generate() (string, error) {
	buf := make([]byte, routeTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
