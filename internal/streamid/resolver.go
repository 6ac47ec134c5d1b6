// Package streamid derives the namespaced identifiers used to address a
// camera feed inside the shared media gateway. Both the server and the
// playback client compute ids independently, so resolution must be pure:
// same inputs, same id, across restarts.
package streamid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MaxLength is the gateway's stream identifier limit.
const MaxLength = 64

// Resolve builds the gateway stream id for a camera. Display names are
// user-controlled, so they are sanitized before inclusion; the
// org/camera prefix keeps tenants from colliding on equal names.
func Resolve(orgID, cameraID, displayName string) string {
	id := sanitize(orgID) + "_" + sanitize(cameraID)
	if name := strings.Trim(sanitize(displayName), "-"); name != "" {
		id += "_" + name
	}

	if len(id) <= MaxLength {
		return id
	}

	// Keep the tenant prefix readable and replace the tail with a short
	// digest of the full identity so truncation cannot collide.
	sum := sha256.Sum256([]byte(id))
	tag := hex.EncodeToString(sum[:4])
	return id[:MaxLength-len(tag)-1] + "_" + tag
}

// sanitize lowercases and maps everything outside [a-z0-9-] to '-'.
// Dropping disallowed runes would merge distinct inputs: org ids "a_b"
// and "ab" must not produce the same identifier once the separator
// disappears.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
