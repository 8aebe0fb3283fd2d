package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHash is the duplicate-detection key for a conversation: SHA-256
// over all non-empty message contents joined by "\n\n". Stable under
// re-import as long as content is unchanged.
func ContentHash(contents []string) string {
	nonEmpty := make([]string, 0, len(contents))
	for _, c := range contents {
		if c != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(nonEmpty, "\n\n")))
	return hex.EncodeToString(sum[:])
}

// MessageKey identifies a message inside a conversation for incremental
// updates: a 16-char SHA-256 prefix over (role, content).
func MessageKey(role, content string) string {
	sum := sha256.Sum256([]byte(role + "\x00" + content))
	return hex.EncodeToString(sum[:])[:16]
}
