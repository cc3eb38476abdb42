package auth

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"github.com/zeebo/blake3"
)

// TokenPrefix starts every minted invocation token.
const TokenPrefix = "ast_"

const base62 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// MintToken returns a new opaque token: 32 random bytes in base62.
func MintToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	n := new(big.Int).SetBytes(buf)
	radix := big.NewInt(int64(len(base62)))
	mod := new(big.Int)
	out := make([]byte, 0, 44)
	for n.Sign() > 0 {
		n.DivMod(n, radix, mod)
		out = append(out, base62[mod.Int64()])
	}
	for len(out) < 43 {
		out = append(out, base62[0])
	}
	return TokenPrefix + string(out), nil
}

// Digest is the at-rest lookup key for a token.
func Digest(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Hint returns the last four characters of a token for display.
func Hint(token string) string {
	if len(token) <= 4 {
		return token
	}
	return token[len(token)-4:]
}
