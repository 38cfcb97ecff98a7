package version

// Version is the current version of the argo-engine library.
// Set at build time with:
// -ldflags "-X github.com/rxtech-lab/argo-engine/internal/version.Version=1.2.3"
// The value "main" marks a development build.
var Version = "v0.3.0"

// GetVersion returns the current version of the library.
func GetVersion() string {
	return Version
}
