// Package generator produces deterministic pseudo-random space content for
// round-trip and batching tests, and for `space seed`.
package generator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"anyback-go/internal/anyback"
)

// DefaultSeed is used when no seed is given.
const DefaultSeed uint64 = 0x0BAD5EED

// Profile caps how much content one run generates.
type Profile struct {
	Name                   string
	Iterations             int
	MaxObjectsPerIteration int
	MaxBodyBytes           int
	MaxTotalObjects        int
	MaxTotalBodyBytes      int
	// MaxDuration truncates the run at an iteration boundary. Zero means no
	// limit.
	MaxDuration time.Duration
	TypeKeys    []string
}

var profiles = map[string]Profile{
	"tiny": {
		Iterations:             1,
		MaxObjectsPerIteration: 3,
		MaxBodyBytes:           512,
		MaxTotalObjects:        3,
		MaxTotalBodyBytes:      2 << 10,
		MaxDuration:            30 * time.Second,
		TypeKeys:               []string{"page", "note", "task"},
	},
	"small": {
		Iterations:             4,
		MaxObjectsPerIteration: 16,
		MaxBodyBytes:           16 << 10,
		MaxTotalObjects:        64,
		MaxTotalBodyBytes:      256 << 10,
		MaxDuration:            4 * time.Minute,
		TypeKeys:               []string{"page", "note", "task"},
	},
	"medium": {
		Iterations:             8,
		MaxObjectsPerIteration: 56,
		MaxBodyBytes:           96 << 10,
		MaxTotalObjects:        420,
		MaxTotalBodyBytes:      8 << 20,
		MaxDuration:            15 * time.Minute,
		TypeKeys:               []string{"page", "note", "task", "bookmark"},
	},
	"large": {
		Iterations:             12,
		MaxObjectsPerIteration: 120,
		MaxBodyBytes:           256 << 10,
		MaxTotalObjects:        1200,
		MaxTotalBodyBytes:      64 << 20,
		MaxDuration:            30 * time.Minute,
		TypeKeys:               []string{"page", "note", "task", "bookmark"},
	},
}

// LookupProfile returns the named profile.
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: unknown profile %q (expected %s)", anyback.ErrInvalid, name, strings.Join(ProfileNames(), "|"))
	}
	p.Name = name
	p.TypeKeys = append([]string(nil), p.TypeKeys...)
	return p, nil
}

// ProfileNames lists the built-in profiles from smallest to largest.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		return profiles[names[i]].MaxTotalObjects < profiles[names[j]].MaxTotalObjects
	})
	return names
}

// Validate checks that every cap is usable.
func (p Profile) Validate() error {
	switch {
	case p.Iterations <= 0:
		return fmt.Errorf("%w: iterations must be positive", anyback.ErrInvalid)
	case p.MaxObjectsPerIteration <= 0:
		return fmt.Errorf("%w: objects per iteration must be positive", anyback.ErrInvalid)
	case p.MaxTotalObjects <= 0:
		return fmt.Errorf("%w: total objects must be positive", anyback.ErrInvalid)
	case p.MaxBodyBytes < minBodyBytes:
		return fmt.Errorf("%w: body bytes must be at least %d", anyback.ErrInvalid, minBodyBytes)
	case p.MaxTotalBodyBytes <= 0:
		return fmt.Errorf("%w: total body bytes must be positive", anyback.ErrInvalid)
	case len(p.TypeKeys) == 0:
		return fmt.Errorf("%w: at least one type key is required", anyback.ErrInvalid)
	}
	return nil
}
