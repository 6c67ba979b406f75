package anyback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"anyback-go/internal/archive"
)

// SelectRequest describes which objects a backup should capture.
type SelectRequest struct {
	// IDs is an explicit id list. IDSource, when set, is read instead: a
	// file path, or "-" for Stdin.
	IDs      []string
	IDSource string
	Stdin    io.Reader

	Since     *time.Time
	SinceMode SinceMode
	Types     []string

	IncludeArchived bool
	IncludeNested   bool
}

func (r SelectRequest) explicit() bool {
	return r.IDs != nil || r.IDSource != ""
}

// Selection is the resolved list of objects a backup acts on.
type Selection struct {
	Kind    string
	Objects []ObjectInfo
	TypeIDs []string
	// SinceIgnored is set when an explicit id list overrode --since.
	SinceIgnored bool
}

// IDs returns the selected ids in order.
func (s *Selection) IDs() []string {
	ids := make([]string, len(s.Objects))
	for i, o := range s.Objects {
		ids[i] = o.ID
	}
	return ids
}

// ParseObjectIDs reads one id per line, skipping blank and #-prefixed lines.
func ParseObjectIDs(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading object ids: %w", err)
	}
	return ids, nil
}

// LoadObjectIDs reads an id list from a file, or from stdin when source is "-".
func LoadObjectIDs(source string, stdin io.Reader) ([]string, error) {
	if source == "-" {
		if stdin == nil {
			return nil, fmt.Errorf("%w: no standard input available for --objects -", ErrInvalid)
		}
		return ParseObjectIDs(stdin)
	}
	f, err := os.Open(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: object id file %s", ErrNotFound, source)
		}
		return nil, fmt.Errorf("opening object id file: %w", err)
	}
	defer f.Close()
	return ParseObjectIDs(f)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Select resolves req against the space. An explicit id list wins over
// --since; the since value is ignored with a warning.
func (s *Service) Select(ctx context.Context, space Space, req SelectRequest) (*Selection, error) {
	if req.explicit() && len(req.Types) > 0 {
		return nil, fmt.Errorf("%w: --types cannot be combined with --objects", ErrInvalid)
	}

	var sel *Selection
	var err error
	if req.explicit() {
		sel, err = s.selectExplicit(ctx, space, req)
	} else {
		sel, err = s.selectListed(ctx, space, req)
	}
	if err != nil {
		return nil, err
	}

	if req.IncludeNested {
		if err := s.expandNested(ctx, space, sel, req.IncludeArchived); err != nil {
			return nil, err
		}
	}
	s.logger.Info("selection resolved", "space", space.ID, "kind", sel.Kind, "count", len(sel.Objects))
	return sel, nil
}

func (s *Service) selectExplicit(ctx context.Context, space Space, req SelectRequest) (*Selection, error) {
	ids := req.IDs
	if req.IDSource != "" {
		var err error
		if ids, err = LoadObjectIDs(req.IDSource, req.Stdin); err != nil {
			return nil, err
		}
	}

	sel := &Selection{Kind: archive.KindSelective}
	if req.Since != nil {
		s.logger.Warn("--objects given; ignoring --since", "since", FormatTimestamp(*req.Since))
		sel.SinceIgnored = true
	}

	for _, id := range dedupe(ids) {
		info, err := s.space.GetObject(ctx, space.ID, id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("looking up object %s: %w", id, err)
			}
			// Kept so the fetch stage records the failure against this id.
			s.logger.Warn("selected object not found in space", "id", id)
			info = ObjectInfo{ID: id}
		}
		sel.Objects = append(sel.Objects, info)
	}
	return sel, nil
}

func (s *Service) selectListed(ctx context.Context, space Space, req SelectRequest) (*Selection, error) {
	sel := &Selection{Kind: archive.KindFull}
	filter := ObjectFilter{IncludeArchived: req.IncludeArchived}

	if len(req.Types) > 0 {
		keys, typeIDs, err := s.resolveTypes(ctx, space, req.Types)
		if err != nil {
			return nil, err
		}
		filter.TypeKeys = keys
		sel.TypeIDs = typeIDs
		sel.Kind = archive.KindSelective
	}

	objects, err := s.space.ListObjects(ctx, space.ID, filter)
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}

	if req.Since == nil {
		sel.Objects = objects
		return sel, nil
	}

	sel.Kind = archive.KindIncremental
	for _, o := range objects {
		modified := o.LastModified
		if modified.IsZero() {
			if modified, err = s.space.LastModified(ctx, space.ID, o.ID); err != nil {
				return nil, fmt.Errorf("reading last modified time of %s: %w", o.ID, err)
			}
		}
		if req.SinceMode.Match(modified, *req.Since) {
			o.LastModified = modified
			sel.Objects = append(sel.Objects, o)
		}
	}
	return sel, nil
}

// resolveTypes maps --types values (keys or ids) to type keys, and returns
// the matching type ids for the manifest.
func (s *Service) resolveTypes(ctx context.Context, space Space, values []string) ([]string, []string, error) {
	types, err := s.space.ListTypes(ctx, space.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing types: %w", err)
	}

	var keys, ids []string
	seen := make(map[string]bool)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		var match *ObjectType
		for i := range types {
			if types[i].ID == v || types[i].Key == v {
				match = &types[i]
				break
			}
		}
		if match == nil {
			return nil, nil, fmt.Errorf("%w: type not found for %q", ErrInvalid, v)
		}
		if !seen[match.ID] {
			seen[match.ID] = true
			keys = append(keys, match.Key)
			ids = append(ids, match.ID)
		}
	}
	if len(keys) == 0 {
		return nil, nil, fmt.Errorf("%w: no valid type entries supplied to --types", ErrInvalid)
	}
	return keys, ids, nil
}

// expandNested adds objects reachable through links, breadth first. Links to
// objects that do not exist in the space are skipped.
func (s *Service) expandNested(ctx context.Context, space Space, sel *Selection, includeArchived bool) error {
	seen := make(map[string]bool, len(sel.Objects))
	queue := make([]ObjectInfo, 0, len(sel.Objects))
	for _, o := range sel.Objects {
		seen[o.ID] = true
		queue = append(queue, o)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, link := range current.Links {
			if seen[link] {
				continue
			}
			seen[link] = true
			info, err := s.space.GetObject(ctx, space.ID, link)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return fmt.Errorf("expanding nested object %s: %w", link, err)
			}
			if info.Archived && !includeArchived {
				continue
			}
			sel.Objects = append(sel.Objects, info)
			queue = append(queue, info)
		}
	}
	return nil
}
