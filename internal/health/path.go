// ABOUTME: URL helper for per-server health paths
// ABOUTME: Replaces the path of the server URL, keeping scheme, host and query

package health

import "net/url"

// joinPath swaps the path of base for p. On a parse failure base is returned.
func joinPath(base, p string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Path = p
	u.RawPath = ""
	return u.String()
}
