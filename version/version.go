package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built softwares version.
	Version = NodeSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// NodeSemVer is the current version of the node.
	// It's the Semantic Version of the software.
	NodeSemVer = "0.1.0"

	// LedgerVersion is bumped whenever the on-disk layout of the ledger
	// changes.
	LedgerVersion uint64 = 1
)
