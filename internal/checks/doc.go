// Package checks parses and validates the checks file.
//
// The file is line oriented:
//
//	# comments and blank lines are ignored
//	timeout=5s              name=value lines are reserved and ignored
//	/                       URL with no expected text
//	/status  All systems go URL followed by text the body must contain
//	//admin.example.com/    protocol-relative URL, routed by Host header
//
// URLs must carry an absolute path and may only use the http or https
// scheme. Every invalid line is reported; a Set is only built when the
// whole file is valid.
//
// Checks against the same URL are merged: the resulting Check requires
// every expected string from every line naming that URL.
package checks
