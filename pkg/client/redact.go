package client

import (
	"net/url"
	"strings"
)

const redacted = "***"

// RedactURL returns raw with credentials masked: userinfo is dropped, any
// path before /eth/ (provider tokens) is replaced, and query values are
// masked. Scheme and host stay readable.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}

	out := url.URL{Scheme: u.Scheme, Host: u.Host}

	path := u.Path
	if idx := strings.Index(path, "/eth/"); idx >= 0 {
		if idx > 0 {
			out.Path = "/" + redacted + path[idx:]
		} else {
			out.Path = path
		}
	} else if strings.Trim(path, "/") != "" {
		out.Path = "/" + redacted
	}

	if u.RawQuery != "" {
		query := u.Query()
		masked := make(url.Values, len(query))
		for key := range query {
			masked.Set(key, redacted)
		}
		out.RawQuery = masked.Encode()
	}

	// Encode escapes the mask, keep it literal.
	result := out.String()
	result = strings.ReplaceAll(result, "%2A%2A%2A", redacted)

	if u.User != nil {
		result = strings.Replace(result, "://", "://"+redacted+"@", 1)
	}
	return result
}
