package version

// Set at build time with -ldflags "-X github.com/luxzg/discoverctl/internal/version.BuildVersion=..."
var (
	BuildVersion = "dev"
	BuildRef     = ""
	BuildDate    = ""
)

// UserAgent is sent on every backend request unless the config overrides it.
func UserAgent() string {
	return "discoverctl/" + BuildVersion
}
