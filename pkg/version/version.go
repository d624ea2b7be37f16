package version

// Set at build time with -ldflags "-X github.com/jingkaihe/layerhook/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
