package fetch

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// StealthProfile is a bundle of extra headers applied to outgoing requests
// to better match a real browser's fingerprint, beyond the User-Agent
// itself (Accept-Language, Accept-Encoding, and any custom set configured
// for the source).
type StealthProfile struct {
	Name    string
	UAMatch string
	Headers map[string]string
}

// StealthFactory selects a StealthProfile for a given User-Agent, falling
// back to a random profile when no substring match is found.
type StealthFactory struct {
	profiles []StealthProfile
}

// NewStealthFactory builds a factory over the given profiles.
func NewStealthFactory(profiles []StealthProfile) *StealthFactory {
	copied := make([]StealthProfile, len(profiles))
	copy(copied, profiles)
	return &StealthFactory{profiles: copied}
}

// ForUserAgent returns the profile whose UAMatch is a substring of ua, or a
// random profile when none match. It returns false if the factory has no
// profiles configured at all.
func (f *StealthFactory) ForUserAgent(ua string) (StealthProfile, bool) {
	if len(f.profiles) == 0 {
		return StealthProfile{}, false
	}

	for _, p := range f.profiles {
		if p.UAMatch != "" && strings.Contains(ua, p.UAMatch) {
			return p, true
		}
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(f.profiles))))
	if err != nil {
		return f.profiles[0], true
	}
	return f.profiles[n.Int64()], true
}

// MergeHeaders applies a stealth profile's headers onto base, additively:
// any header already present in base (caller-provided) wins and is left
// untouched.
func MergeHeaders(base map[string]string, profile StealthProfile) map[string]string {
	merged := make(map[string]string, len(base)+len(profile.Headers))
	for k, v := range profile.Headers {
		merged[k] = v
	}
	for k, v := range base {
		merged[k] = v
	}
	return merged
}
