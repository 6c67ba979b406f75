package inspect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"anyback-go/internal/archive"
)

// Options configures an Inspector.
type Options struct {
	// CacheBytes bounds the preview cache. Zero means DefaultCacheBytes.
	CacheBytes int64
	// Heading styles section headings. Nil prints them unchanged.
	Heading func(string) string
}

// Inspector is a line-oriented browser over one archive.
type Inspector struct {
	archive *archive.Archive
	index   *Index
	cache   *PreviewCache
	heading func(string) string
}

// NewInspector indexes a and prepares the preview cache.
func NewInspector(a *archive.Archive, opts Options) (*Inspector, error) {
	idx, err := BuildIndex(a)
	if err != nil {
		return nil, err
	}
	budget := opts.CacheBytes
	if budget == 0 {
		budget = DefaultCacheBytes
	}
	in := &Inspector{archive: a, index: idx, heading: opts.Heading}
	if in.heading == nil {
		in.heading = func(s string) string { return s }
	}
	in.cache, err = NewPreviewCache(budget, in.render)
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (in *Inspector) Index() *Index { return in.index }

func (in *Inspector) Cache() *PreviewCache { return in.cache }

func (in *Inspector) render(id string) (*Preview, error) {
	kind, data, err := Render(in.archive, id, in.index.Objects())
	if err != nil {
		return nil, err
	}
	return &Preview{ID: id, Kind: kind, Data: data}, nil
}

// Preview returns the rendered content of the entry ref points at.
func (in *Inspector) Preview(ref string) (*IndexEntry, *Preview, error) {
	e, err := in.index.Lookup(ref)
	if err != nil {
		return nil, nil, err
	}
	p, err := in.cache.Get(e.ID)
	if err != nil {
		return e, nil, err
	}
	return e, p, nil
}

var errQuit = errors.New("quit")

// Run reads commands from r until quit, end of input or cancellation.
// Command errors are printed and do not end the session.
func (in *Inspector) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	fmt.Fprintf(w, "%s: %d entries. Type help for commands.\n", in.index.Path, len(in.index.Entries))
	sc := bufio.NewScanner(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(w, "> ")
		if !sc.Scan() {
			fmt.Fprintln(w)
			return sc.Err()
		}
		err := in.Exec(w, sc.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
	}
}

// Exec runs a single command line.
func (in *Inspector) Exec(w io.Writer, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "":
		return nil
	case "ls":
		in.list(w, arg)
		return nil
	case "show":
		if arg == "" {
			return fmt.Errorf("%w: usage: show <id|#n>", archive.ErrInvalid)
		}
		return in.show(w, arg)
	case "stats":
		in.stats(w)
		return nil
	case "help", "?":
		fmt.Fprint(w, inspectorHelp)
		return nil
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("%w: unknown command %q (try help)", archive.ErrInvalid, cmd)
	}
}

const inspectorHelp = `commands:
  ls [filter]      list entries, optionally filtered by id, name or type
  show <id|#n>     print an entry's details and preview
  stats            archive and cache statistics
  help             this text
  quit             leave the inspector
`

func (in *Inspector) list(w io.Writer, filter string) {
	pos := make(map[*IndexEntry]int, len(in.index.Entries))
	for i, e := range in.index.Entries {
		pos[e] = i + 1
	}
	matches := in.index.Filter(filter)
	for _, e := range matches {
		state := ""
		if !e.Readable {
			state = " (unreadable)"
		} else if e.Archived {
			state = " (archived)"
		}
		fmt.Fprintf(w, "#%-4d %s  %s  %s%s\n", pos[e], e.ID, e.Name, e.TypeKey, state)
	}
	fmt.Fprintf(w, "%d of %d entries\n", len(matches), len(in.index.Entries))
}

func (in *Inspector) show(w io.Writer, ref string) error {
	e, err := in.index.Lookup(ref)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, in.heading(e.Name))
	fmt.Fprintf(w, "id:        %s\n", e.ID)
	fmt.Fprintf(w, "path:      %s (%s, %s)\n", e.Path, e.Format, humanize.IBytes(uint64(e.Size)))
	if !e.Readable {
		fmt.Fprintf(w, "error:     %s\n", e.Error)
		return nil
	}
	if e.SBType != 0 {
		fmt.Fprintf(w, "kind:      %s\n", e.SBType)
	}
	if e.TypeKey != "" {
		fmt.Fprintf(w, "type:      %s\n", e.TypeKey)
	}
	if e.Layout != "" {
		fmt.Fprintf(w, "layout:    %s\n", e.Layout)
	}
	if !e.Modified.IsZero() {
		fmt.Fprintf(w, "modified:  %s (%s)\n", e.Modified.UTC().Format("2006-01-02 15:04:05"), humanize.Time(e.Modified))
	}
	if e.Archived {
		fmt.Fprintln(w, "archived:  yes")
	}
	if len(e.Links) > 0 {
		fmt.Fprintf(w, "links:     %s\n", strings.Join(e.Links, ", "))
	}
	if len(e.Backlinks) > 0 {
		fmt.Fprintf(w, "backlinks: %s\n", strings.Join(e.Backlinks, ", "))
	}

	p, err := in.cache.Get(e.ID)
	if err != nil {
		if errors.Is(err, ErrUnsupportedExtractKind) {
			fmt.Fprintln(w, "(no preview for this kind of object)")
			return nil
		}
		return err
	}
	fmt.Fprintln(w)
	switch p.Kind {
	case KindRaw:
		fmt.Fprintf(w, "[raw payload, %s]\n", humanize.IBytes(uint64(len(p.Data))))
	default:
		fmt.Fprint(w, string(p.Data))
		if len(p.Data) > 0 && p.Data[len(p.Data)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
	return nil
}

func (in *Inspector) stats(w io.Writer) {
	idx := in.index
	fmt.Fprintln(w, in.heading("archive"))
	fmt.Fprintf(w, "path:      %s (%s)\n", idx.Path, idx.Source)
	fmt.Fprintf(w, "entries:   %d\n", len(idx.Entries))
	fmt.Fprintf(w, "files:     %d (%s)\n", idx.FileCount, humanize.IBytes(uint64(idx.TotalBytes)))
	switch {
	case idx.Manifest != nil:
		fmt.Fprintf(w, "manifest:  %s, %d objects from %s\n", idx.Manifest.Kind, idx.Manifest.ObjectCount, idx.Manifest.SourceSpaceName)
	case idx.ManifestError != "":
		fmt.Fprintf(w, "manifest:  unreadable: %s\n", idx.ManifestError)
	default:
		fmt.Fprintln(w, "manifest:  missing")
	}

	s := in.cache.Stats()
	fmt.Fprintln(w, in.heading("cache"))
	fmt.Fprintf(w, "entries:   %d\n", s.Entries)
	fmt.Fprintf(w, "bytes:     %s of %s\n", humanize.IBytes(uint64(s.Bytes)), humanize.IBytes(uint64(s.Budget)))
	fmt.Fprintf(w, "hits:      %d\n", s.Hits)
	fmt.Fprintf(w, "misses:    %d\n", s.Misses)
	fmt.Fprintf(w, "renders:   %d\n", s.Renders)
}
