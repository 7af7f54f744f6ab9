package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const tokenBytes = 32

// TokenPrefix marks owner API tokens so leaked ones are easy to grep for.
const TokenPrefix = "wag_"

func GenerateToken() (string, error) {
	bytes := make([]byte, tokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateAPIToken returns a new owner API token.
func GenerateAPIToken() (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	return TokenPrefix + token, nil
}

func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func HmacSHA256(secret, data string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// MaskToken keeps only the prefix and first characters of a token for logs.
func MaskToken(token string) string {
	if len(token) <= len(TokenPrefix)+4 {
		return "****"
	}
	return token[:len(TokenPrefix)+4] + "****"
}
