package gateway

import (
	"net/url"
	"testing"
)

func TestTokenGeneratorUniqueAndPathSafe(t *testing.T) {
	gen := TokenGenerator{}
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		token, err := gen.Generate()
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if token == "" {
			t.Fatalf("empty token")
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token after %d generations: %s", i, token)
		}
		seen[token] = struct{}{}
		if url.PathEscape(token) != token {
			t.Fatalf("token requires path escaping: %s", token)
		}
	}
}

func TestTokenGeneratorLength(t *testing.T) {
	token, err := TokenGenerator{}.Generate()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	// 24 random bytes encode to 32 base64url characters.
	if len(token) != 32 {
		t.Fatalf("unexpected token length %d: %s", len(token), token)
	}
}
