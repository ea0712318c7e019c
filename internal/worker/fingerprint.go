package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/shaiso/Ensemble/internal/engine"
)

// fingerprintLen — длина hex части отпечатка.
const fingerprintLen = 16

// Fingerprint вычисляет ключ кэша для вызова агента:
//
//	<agentID>:<первые 16 hex символов sha256(JSON входа)>
//
// encoding/json сортирует ключи map, поэтому одинаковый вход
// всегда даёт одинаковый отпечаток.
func Fingerprint(agentID string, input any) (string, error) {
	data, err := json.Marshal(engine.Normalize(input))
	if err != nil {
		return "", fmt.Errorf("marshal input: %w", err)
	}
	sum := sha256.Sum256(data)
	return agentID + ":" + hex.EncodeToString(sum[:])[:fingerprintLen], nil
}
