package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/danielpatrickdp/trustgate/internal/gate"
)

// ErrIntegrity is returned when a stored record no longer matches its digest.
var ErrIntegrity = errors.New("decision record integrity check failed")

// Digest returns the hex SHA-256 of the RFC 8785 canonical JSON form of d.
func Digest(d gate.EmitDecision) (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal decision: %w", err)
	}
	return digestJSON(raw)
}

// digestJSON canonicalizes raw before hashing so key order and number
// formatting in the stored text do not change the digest.
func digestJSON(raw []byte) (string, error) {
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize decision: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// checkDigest decodes raw after confirming it still hashes to want.
func checkDigest(raw, want string) (gate.EmitDecision, error) {
	got, err := digestJSON([]byte(raw))
	if err != nil {
		return gate.EmitDecision{}, err
	}
	if got != want {
		return gate.EmitDecision{}, ErrIntegrity
	}
	var d gate.EmitDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return gate.EmitDecision{}, fmt.Errorf("decode decision: %w", err)
	}
	return d, nil
}
