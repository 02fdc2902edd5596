package passes

import (
	"encoding/hex"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/goliatone/go-walletsync/core"
)

const digestPrefix = "blake3:"

// encMode is Core Deterministic CBOR (RFC 8949 §4.2): map keys are sorted so
// the same logical payload always encodes to the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("passes: CBOR encoder initialization failed: " + err.Error())
	}
}

// Digest returns the canonical content hash of a derived payload.
func Digest(payload any) (string, error) {
	encoded, err := encMode.Marshal(payload)
	if err != nil {
		return "", core.InternalError(err, "passes: payload encoding failed")
	}
	return HashBytes(encoded), nil
}

// HashBytes hashes opaque bytes such as a signed artifact.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// NeedsRegeneration reports whether a pass must be re-signed. A missing stored
// digest means the pass was never issued.
func NeedsRegeneration(stored string, next string) bool {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return true
	}
	return stored != strings.TrimSpace(next)
}
