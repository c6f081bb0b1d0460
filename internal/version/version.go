package version

import (
	"runtime"
	"time"
)

// Overridden at build time:
//
//	go build -ldflags "-X github.com/MrSnakeDoc/bookmirror/internal/version.Version=v0.3.0"
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = time.Now().UTC().Format(time.RFC3339)
	GoVersion = runtime.Version()
)

// String renders the build info on one line.
func String() string {
	return Version + " (commit=" + Commit + ", built=" + BuildDate + ", go=" + GoVersion + ")"
}
