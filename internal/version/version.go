// Package version exposes build metadata injected at link time:
//
//	go build -ldflags "-X github.com/54b3r/sitechat-go/internal/version.Version=v0.3.0 \
//	  -X github.com/54b3r/sitechat-go/internal/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/54b3r/sitechat-go/internal/version.BuildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

var (
	// Version is the semantic version of the binary.
	Version = "dev"
	// Commit is the short git SHA the binary was built from.
	Commit = "unknown"
	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)

// UserAgent returns the User-Agent sent on outbound crawl requests.
func UserAgent() string {
	return "sitechat-ingest/" + Version
}
