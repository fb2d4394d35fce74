// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashPayload returns the hex-encoded SHA-256 digest of data. Used for
// privacy-mode media where only a content fingerprint may leave the client.
func HashPayload(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
