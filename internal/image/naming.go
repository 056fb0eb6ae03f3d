// Package image fetches remote images and stores them under the uploads
// directory with deterministic, structured names.
package image

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
)

// Image types.
const (
	TypeLogo = "logo"
)

// Uploader identities recorded in file names.
const (
	UploaderSystem = "system"
)

// NameParams are the inputs of the naming policy.
type NameParams struct {
	EntityType   string
	EntityID     string
	ImageType    string
	Uploader     string
	OriginalName string
	CustomSuffix string
	Extension    string // including the leading dot
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9-]+`)

// StructuredPath returns the relative path for an image:
//
//	<entityType>/<entityId>/<imageType>/<entityType>_<entityId>_<imageType>_<uploader>[_<suffix>]_<hash><ext>
//
// The hash is derived from OriginalName, so the same source always maps to
// the same file.
func StructuredPath(p NameParams) string {
	entityType := sanitise(p.EntityType)
	entityID := sanitise(p.EntityID)
	imageType := sanitise(p.ImageType)
	uploader := sanitise(p.Uploader)
	if uploader == "" {
		uploader = UploaderSystem
	}

	parts := []string{entityType, entityID, imageType, uploader}
	if suffix := sanitise(p.CustomSuffix); suffix != "" {
		parts = append(parts, suffix)
	}
	parts = append(parts, shortHash(p.OriginalName))

	ext := strings.ToLower(p.Extension)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return path.Join(entityType, entityID, imageType, strings.Join(parts, "_")+ext)
}

func sanitise(s string) string {
	s = unsafeChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(s, "-")
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}
