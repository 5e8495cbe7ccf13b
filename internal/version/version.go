// Package version reports build metadata stamped with -ldflags, falling
// back to the module build info.
package version

import (
	"runtime/debug"
	"strings"
)

// AppName prefixes the user agent of every outbound request.
const AppName = "linnemanlabs-healthchecks"

var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Get merges the stamped values with debug.ReadBuildInfo. Stamped values
// win; build info only fills what was left unset.
func Get() Info {
	out := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	if out.GoVersion == "" {
		out.GoVersion = bi.GoVersion
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.CommitDate == "" {
				out.CommitDate = s.Value
			}
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
		case "vcs.modified":
			if out.VCSDirty == nil && (s.Value == "true" || s.Value == "false") {
				dirty := s.Value == "true"
				out.VCSDirty = &dirty
			}
		}
	}
	return out
}

// ShortCommit is the first 12 characters of the commit.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 12 {
		return i.Commit[:12]
	}
	return i.Commit
}

// UserAgent is "linnemanlabs-healthchecks/<version>", with the short commit
// appended for dev builds. Probes send it so their requests are easy to
// filter out of upstream access logs.
func (i Info) UserAgent() string {
	var b strings.Builder
	b.WriteString(AppName)
	b.WriteByte('/')
	b.WriteString(i.Version)
	if i.Version == "dev" && i.Commit != "" && i.Commit != "none" {
		b.WriteString(" (")
		b.WriteString(i.ShortCommit())
		b.WriteByte(')')
	}
	return b.String()
}
