package version

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = ""
)

func GetInfo() string {
	if Commit != "" {
		return Version + " (" + Commit + ")"
	}
	return Version
}
