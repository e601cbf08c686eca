// Package version holds build metadata for the visor engine.
package version

import "fmt"

// Overridden at build time:
//
//	go build -ldflags "-X github.com/AaronLay10/VisorEngine/internal/version.Version=x.y.z -X github.com/AaronLay10/VisorEngine/internal/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// String is the version line printed by `visor version` and exposed on
// /health and /metrics.
func String() string {
	return fmt.Sprintf("visor %s (%s)", Version, Commit)
}
