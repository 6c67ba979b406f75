// Package diff compares the snapshot entries of two archives by content
// fingerprint.
package diff

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"anyback-go/internal/archive"
	"anyback-go/internal/snapshot"
)

// fingerprintWorkers bounds concurrent fingerprinting per archive.
const fingerprintWorkers = 8

// Change is an object present in both archives with different content.
type Change struct {
	ID  string `json:"id"`
	Old string `json:"old"`
	New string `json:"new"`
}

// Result lists the differences between archive A and archive B. All lists
// are sorted by id.
type Result struct {
	OnlyA   []string `json:"only_a"`
	OnlyB   []string `json:"only_b"`
	Changed []Change `json:"changed"`
}

// Empty reports whether the archives hold the same objects with the same
// content.
func (r *Result) Empty() bool {
	return len(r.OnlyA) == 0 && len(r.OnlyB) == 0 && len(r.Changed) == 0
}

// Compare diffs a against b. Protobuf and pb-json archives compare by their
// canonical protobuf form; markdown compares only against markdown.
func Compare(ctx context.Context, a, b *archive.Archive) (*Result, error) {
	fa, formatA, err := fingerprints(ctx, a)
	if err != nil {
		return nil, err
	}
	fb, formatB, err := fingerprints(ctx, b)
	if err != nil {
		return nil, err
	}
	if formatA != "" && formatB != "" && formatA.Structured() != formatB.Structured() {
		return nil, fmt.Errorf("%w: cannot compare %s archive with %s archive",
			archive.ErrUnsupportedFormat, formatA, formatB)
	}

	res := &Result{OnlyA: []string{}, OnlyB: []string{}, Changed: []Change{}}
	for id, fpA := range fa {
		fpB, ok := fb[id]
		switch {
		case !ok:
			res.OnlyA = append(res.OnlyA, id)
		case fpA != fpB:
			res.Changed = append(res.Changed, Change{ID: id, Old: fpA, New: fpB})
		}
	}
	for id := range fb {
		if _, ok := fa[id]; !ok {
			res.OnlyB = append(res.OnlyB, id)
		}
	}
	sort.Strings(res.OnlyA)
	sort.Strings(res.OnlyB)
	sort.Slice(res.Changed, func(i, j int) bool { return res.Changed[i].ID < res.Changed[j].ID })
	return res, nil
}

// fingerprints returns the fingerprint of every entry by id, and the single
// format the archive uses. Archives mixing formats are rejected.
func fingerprints(ctx context.Context, a *archive.Archive) (map[string]string, snapshot.Format, error) {
	entries, err := a.ListEntries()
	if err != nil {
		return nil, "", err
	}

	var format snapshot.Format
	for _, e := range entries {
		switch e.Format {
		case snapshot.FormatPB, snapshot.FormatPBJSON, snapshot.FormatMarkdown:
		default:
			return nil, "", fmt.Errorf("%w: %s: unknown format %q", archive.ErrUnsupportedFormat, e.Path, e.Format)
		}
		if format == "" {
			format = e.Format
			continue
		}
		if format != e.Format {
			return nil, "", fmt.Errorf("%w: %s mixes %s and %s entries",
				archive.ErrUnsupportedFormat, a.Path(), format, e.Format)
		}
	}

	fps := make([]string, len(entries))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fingerprintWorkers)
	for i, e := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fp, err := a.Fingerprint(e)
			if err != nil {
				return fmt.Errorf("%s: %w", a.Path(), err)
			}
			fps[i] = fp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	out := make(map[string]string, len(entries))
	for i, e := range entries {
		out[e.ID] = fps[i]
	}
	return out, format, nil
}
