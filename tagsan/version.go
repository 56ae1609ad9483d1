package tagsan

import (
	"github.com/kolkov/tagdetector/internal/tag/addr"
	internal "github.com/kolkov/tagdetector/internal/tag/api"
)

// Version information for the tag detector runtime.
const (
	// Version is the current version of the runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information.
type Info struct {
	// Version is the runtime version string.
	Version string

	// TagBits is the number of pointer bits used for the tag.
	TagBits int

	// GranuleSize is the number of bytes covered by one memory tag.
	GranuleSize int

	// RandomTags reports whether tags are entropy-seeded.
	RandomTags bool
}

// GetInfo returns information about the runtime.
//
// Example:
//
//	info := tagsan.GetInfo()
//	fmt.Printf("tagsan %s (%d-byte granules)\n", info.Version, info.GranuleSize)
func GetInfo() Info {
	return Info{
		Version:     Version,
		TagBits:     8,
		GranuleSize: addr.GranuleSize,
		RandomTags:  internal.Flags().RandomTags,
	}
}
