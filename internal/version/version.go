package version

import (
	"github.com/earthboundkid/versioninfo/v2"
)

// GetVersion returns the short build version, "(devel)" for untagged builds
func GetVersion() string {
	return versioninfo.Short()
}

// GetFullVersion returns version with commit info
func GetFullVersion() string {
	if versioninfo.Revision == "unknown" || versioninfo.Revision == "" {
		return versioninfo.Version
	}
	full := versioninfo.Version + " (commit: " + shortRevision(versioninfo.Revision)
	if versioninfo.DirtyBuild {
		full += ", dirty"
	}
	return full + ")"
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
