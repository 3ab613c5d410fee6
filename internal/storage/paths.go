package storage

import (
	"fmt"
	"path"
	"strings"
)

// ArtifactPath is the resolved on-disk location for one uploaded version,
// relative to the artifact store root.
type ArtifactPath struct {
	Dir      string
	Filename string
}

// Relative returns the slash-separated path of the artifact below the root.
func (p ArtifactPath) Relative() string {
	return path.Join(p.Dir, p.Filename)
}

// ResolveArtifactPath maps (owner, mod, version label) onto a deterministic
// relative path: {username}_{ownerID}/{mod}/{mod}-{label}.zip with every
// user-controlled segment sanitized independently. Two distinct versions of a
// mod only collide when their labels sanitize to the same string; that edge
// case surfaces as a duplicate-version conflict at write time.
func ResolveArtifactPath(ownerUsername string, ownerID int64, modName, versionLabel string) ArtifactPath {
	owner := fmt.Sprintf("%s_%d", SanitizeSegment(ownerUsername), ownerID)
	mod := SanitizeSegment(modName)
	return ArtifactPath{
		Dir:      path.Join(owner, mod),
		Filename: fmt.Sprintf("%s-%s.zip", mod, SanitizeSegment(versionLabel)),
	}
}

// SanitizeSegment collapses a user-controlled string to a filesystem-safe
// charset. Letters, digits, dot, dash, and underscore survive; every other
// run of runes becomes a single underscore. Dots are stripped from the ends
// so a segment can never be "." or "..".
func SanitizeSegment(raw string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	cleaned := strings.Trim(b.String(), "._")
	if cleaned == "" {
		return "_"
	}
	return cleaned
}
