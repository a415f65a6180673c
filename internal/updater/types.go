package updater

import (
	"time"

	"github.com/creativeprojects/go-selfupdate"
)

// Options configures the updater.
type Options struct {
	Repository string // GitHub repo slug, e.g. "nvrlab/rtsptrace"
	Prerelease bool   // consider prereleases when checking
}

// Release describes the latest published release relative to the running
// binary. Available is false when the binary is already up to date.
type Release struct {
	CurrentVersion string
	LatestVersion  string
	ReleaseNotes   string
	URL            string
	PublishedAt    time.Time
	Available      bool

	release *selfupdate.Release
}
