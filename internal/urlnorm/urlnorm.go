// Package urlnorm implements the canonical-URL normalization and hashing
// used across the crawler and the storage service. Both sides must agree on
// this implementation; divergence causes ingestion drift.
package urlnorm

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"net/url"
	"strings"
)

// Mode selects how aggressively the URL is normalized before hashing.
type Mode string

const (
	// ModeStrict drops tracking parameters, fragments, default ports and
	// collapses slashes. This is the default mode.
	ModeStrict Mode = "strict"
	// ModeLenient keeps the full query string but still lowercases the host.
	ModeLenient Mode = "lenient"
	// ModeNone returns the canonical/url input unchanged.
	ModeNone Mode = "none"
)

// trackingPrefixes are lowercase query-key prefixes stripped in strict mode.
var trackingPrefixes = []string{"utm_", "spm", "icid"}

// trackingExact are exact lowercase query keys stripped in strict mode.
var trackingExact = map[string]struct{}{
	"fbclid": {}, "gclid": {}, "mc_eid": {}, "mc_cid": {}, "mkt_tok": {}, "cmpid": {},
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	for _, prefix := range trackingPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	_, exact := trackingExact[lower]
	return exact
}

// Normalize computes the normalized form of an article URL. canonical, when
// non-empty, is preferred over rawURL as the source of truth. mode defaults
// to ModeStrict if empty.
func Normalize(rawURL, canonical string, mode Mode) (string, error) {
	if mode == "" {
		mode = ModeStrict
	}

	source := rawURL
	if canonical != "" {
		source = canonical
	}
	if source == "" {
		return "", fmt.Errorf("urlnorm: empty url and canonical")
	}

	if mode == ModeNone {
		return source, nil
	}

	u, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("urlnorm: parse %q: %w", source, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	// Drop default ports for the scheme.
	if host, port, ok := splitHostPort(u.Host); ok {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = host
		}
	}

	// A bare-host URL (no path) normalizes to root, matching the documented
	// "strip trailing slash except root" invariant.
	if u.Path == "" {
		u.Path = "/"
	}

	// Collapse repeated slashes in the path.
	u.Path = collapseSlashes(u.Path)

	// Strip trailing slash except for root.
	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
	}

	if mode == ModeStrict {
		u.RawQuery = filterTrackingQuery(u.RawQuery)
	}

	return u.String(), nil
}

// splitHostPort splits a host:port pair. It does not use net.SplitHostPort
// because that function rejects hosts without a port, which is the common
// case here.
func splitHostPort(host string) (string, string, bool) {
	idx := strings.LastIndex(host, ":")
	if idx < 0 {
		return host, "", false
	}
	return host[:idx], host[idx+1:], true
}

func collapseSlashes(path string) string {
	if path == "" {
		return path
	}
	var b strings.Builder
	b.Grow(len(path))
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// filterTrackingQuery removes tracking parameters while preserving the
// relative order of the remaining keys for deterministic hashing.
func filterTrackingQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	kept := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			key = pair[:idx]
		}
		if key, err := url.QueryUnescape(key); err == nil {
			if isTrackingParam(key) {
				continue
			}
		} else if isTrackingParam(key) {
			continue
		}
		kept = append(kept, pair)
	}

	// The split above already preserves original ordering; sorting kept
	// pairs here would make the hash depend on parameter order rather than
	// content, so we deliberately leave them as encountered.
	return strings.Join(kept, "&")
}

// hasherFor returns a constructor for the named digest algorithm.
func hasherFor(algo string) (func() hash.Hash, error) {
	switch strings.ToLower(algo) {
	case "", "sha256":
		return sha256.New, nil
	case "sha1":
		return sha1.New, nil
	case "sha512":
		return sha512.New, nil
	case "md5":
		return md5.New, nil
	default:
		return nil, fmt.Errorf("urlnorm: unsupported hash algorithm %q", algo)
	}
}

// Hash returns the hex digest of the normalized URL under the given
// algorithm (default sha256). The same normalized input always yields the
// same hash across runs and processes.
func Hash(normalized string, algo string) (string, error) {
	newHash, err := hasherFor(algo)
	if err != nil {
		return "", err
	}
	h := newHash()
	_, _ = h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil)), nil
}
