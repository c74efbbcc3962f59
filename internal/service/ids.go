package service

import (
	"crypto/rand"
	"encoding/hex"
)

func newID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func newAPIKey() string {
	bytes := make([]byte, 24)
	_, _ = rand.Read(bytes)
	return "pdfk_" + hex.EncodeToString(bytes)
}
