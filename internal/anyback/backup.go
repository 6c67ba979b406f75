package anyback

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"anyback-go/internal/archive"
	"anyback-go/internal/snapshot"
)

// Backup modes.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// BackupRequest describes one backup run.
type BackupRequest struct {
	// Space is a space id or name.
	Space        string
	Select       SelectRequest
	Target       TargetRequest
	Format       snapshot.Format
	Mode         string
	IncludeFiles bool
	// Workers overrides the configured fetch concurrency when > 0.
	Workers int
}

// BackupFailure records an object that was selected but not captured.
type BackupFailure struct {
	ID    string
	Stage string
	Err   error
}

// BackupResult summarises a finished backup.
type BackupResult struct {
	Path     string
	Kind     archive.Kind
	Space    Space
	Manifest *archive.Manifest
	Selected int
	Captured int
	Files    int
	Failures []BackupFailure
}

func resolveMode(mode string, since *time.Time) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "":
		if since != nil {
			return ModeIncremental, nil
		}
		return ModeFull, nil
	case ModeFull:
		if since != nil {
			return "", fmt.Errorf("%w: --mode full cannot be combined with --since", ErrInvalid)
		}
		return ModeFull, nil
	case ModeIncremental:
		if since == nil {
			return "", fmt.Errorf("%w: --mode incremental requires --since", ErrInvalid)
		}
		return ModeIncremental, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q (expected full or incremental)", ErrInvalid, mode)
	}
}

// Backup captures the selected objects of a space into a new archive.
// Setup failures (space, target, selection) return an error before anything
// is written. Per-object failures are reported in the result and skipped.
// On cancellation the partial archive is removed.
func (s *Service) Backup(ctx context.Context, req BackupRequest) (*BackupResult, error) {
	format := req.Format
	if format == "" {
		format = snapshot.FormatPB
	}
	if _, err := snapshot.ParseFormat(string(format)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	mode, err := resolveMode(req.Mode, req.Select.Since)
	if err != nil {
		return nil, err
	}

	space, err := s.space.ResolveSpace(ctx, req.Space)
	if err != nil {
		return nil, fmt.Errorf("resolving space: %w", err)
	}

	started := s.clock.Now()
	target, err := ResolveTarget(req.Target, space.ID, started)
	if err != nil {
		return nil, fmt.Errorf("resolving backup target: %w", err)
	}

	sel, err := s.Select(ctx, space, req.Select)
	if err != nil {
		return nil, fmt.Errorf("selecting objects: %w", err)
	}

	w, err := archive.Create(target.Path, target.Kind)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	s.logger.Info("backup started", "space", space.ID, "dest", target.Path, "format", string(format), "objects", len(sel.Objects))

	workers := s.settings.Workers
	if req.Workers > 0 {
		workers = req.Workers
	}
	captured, failures, err := s.capture(ctx, w, space, sel, format, req.IncludeFiles, workers)
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			s.logger.Error("removing partial archive", "error", abortErr)
		}
		return nil, err
	}

	m := &archive.Manifest{
		SchemaVersion:    archive.SchemaVersion,
		Tool:             s.Tool(),
		CreatedAt:        FormatTimestamp(started.UTC()),
		CreatedAtDisplay: FormatDisplay(started),
		SourceSpaceID:    space.ID,
		SourceSpaceName:  space.Name,
		Format:           string(format),
		ObjectCount:      len(captured),
		Objects:          captured,
		Kind:             sel.Kind,
		Mode:             mode,
		TypeIDs:          sel.TypeIDs,
		Options: &archive.Options{
			IncludeFiles:    req.IncludeFiles,
			IncludeNested:   req.Select.IncludeNested,
			IncludeArchived: req.Select.IncludeArchived,
		},
	}
	if since := req.Select.Since; since != nil && !sel.SinceIgnored {
		m.Since = FormatTimestamp(*since)
		m.SinceDisplay = FormatDisplay(*since)
		m.Until = FormatTimestamp(started.UTC())
		m.UntilDisplay = FormatDisplay(started)
	}

	if err := w.Finalize(m); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}
	_, blobs := w.Counts()

	s.logger.Info("backup finished", "dest", target.Path, "captured", len(captured), "files", blobs, "failed", len(failures))
	return &BackupResult{
		Path:     target.Path,
		Kind:     target.Kind,
		Space:    space,
		Manifest: m,
		Selected: len(sel.Objects),
		Captured: len(captured),
		Files:    blobs,
		Failures: failures,
	}, nil
}

type fetched struct {
	info     ObjectInfo
	data     []byte
	blob     []byte
	fileName string
	err      *ObjectError
	canceled bool
}

// capture fetches objects with a bounded worker pool and hands the results to
// a single writer goroutine, which appends them in selection order. At most
// workers objects are fetched ahead of the writer.
func (s *Service) capture(ctx context.Context, w *archive.Writer, space Space, sel *Selection, format snapshot.Format, includeFiles bool, workers int) ([]archive.ObjectDescriptor, []BackupFailure, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var index map[string]snapshot.ObjectInfo
	if format == snapshot.FormatMarkdown {
		index = markdownIndex(sel.Objects)
	}

	results := make([]chan fetched, len(sel.Objects))
	for i := range results {
		results[i] = make(chan fetched, 1)
	}
	window := make(chan struct{}, workers)

	type writeResult struct {
		captured []archive.ObjectDescriptor
		failures []BackupFailure
		err      error
	}
	done := make(chan writeResult, 1)

	go func() {
		var res writeResult
		res.captured = []archive.ObjectDescriptor{}
		for i := range results {
			if err := ctx.Err(); err != nil {
				res.err = fmt.Errorf("backup canceled: %w", err)
				break
			}
			f := <-results[i]
			// Canceled results are sent without holding a slot.
			select {
			case <-window:
			default:
			}
			if f.canceled {
				res.err = fmt.Errorf("backup canceled: %w", context.Cause(ctx))
				break
			}
			if f.err != nil {
				s.logger.Warn("object skipped", "id", f.err.ID, "stage", f.err.Stage, "error", f.err.Err)
				res.failures = append(res.failures, BackupFailure{ID: f.err.ID, Stage: f.err.Stage, Err: f.err.Err})
				continue
			}
			if err := w.AppendSnapshot(f.info.ID, format, f.data); err != nil {
				res.err = fmt.Errorf("writing snapshot %s: %w", f.info.ID, err)
				break
			}
			if f.blob != nil {
				if _, err := w.AppendFileBlob(f.info.ID, f.fileName, f.blob); err != nil {
					res.err = fmt.Errorf("writing file blob %s: %w", f.info.ID, err)
					break
				}
			}
			res.captured = append(res.captured, descriptorOf(f.info))
			s.logger.Debug("object captured", "id", f.info.ID, "bytes", len(f.data))
		}
		if res.err != nil {
			cancel()
		}
		done <- res
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, info := range sel.Objects {
		select {
		case window <- struct{}{}:
		case <-gctx.Done():
		}
		if gctx.Err() != nil {
			results[i] <- fetched{info: info, canceled: true}
			continue
		}
		g.Go(func() error {
			results[i] <- s.fetchOne(gctx, space, info, format, includeFiles, index)
			return nil
		})
	}
	g.Wait()

	res := <-done
	if res.err != nil {
		return nil, nil, res.err
	}
	return res.captured, res.failures, nil
}

func (s *Service) fetchOne(ctx context.Context, space Space, info ObjectInfo, format snapshot.Format, includeFiles bool, index map[string]snapshot.ObjectInfo) fetched {
	if ctx.Err() != nil {
		return fetched{info: info, canceled: true}
	}
	raw, err := s.space.FetchSnapshot(ctx, space.ID, info.ID)
	if err != nil {
		if ctx.Err() != nil {
			return fetched{info: info, canceled: true}
		}
		return fetched{info: info, err: objectError(info.ID, StageFetch, err)}
	}

	data, err := convert(raw, format, index)
	if err != nil {
		return fetched{info: info, err: objectError(info.ID, StageEncode, err)}
	}
	f := fetched{info: info, data: data}

	if includeFiles && info.IsFile() {
		blob, err := s.space.FetchFile(ctx, space.ID, info.ID)
		if err != nil {
			if ctx.Err() != nil {
				return fetched{info: info, canceled: true}
			}
			return fetched{info: info, err: objectError(info.ID, StageFetch, fmt.Errorf("fetching file: %w", err))}
		}
		f.blob = blob
		f.fileName = info.FileName
		if f.fileName == "" {
			f.fileName = info.Name
		}
	}
	return f
}

// convert turns a fetched protobuf snapshot into the requested format.
func convert(raw []byte, format snapshot.Format, index map[string]snapshot.ObjectInfo) ([]byte, error) {
	if format == snapshot.FormatPB {
		return raw, nil
	}
	snap, err := snapshot.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if format == snapshot.FormatMarkdown {
		return []byte(snapshot.RenderMarkdown(snap, index)), nil
	}
	return snapshot.EncodeJSON(snap)
}

func markdownIndex(objects []ObjectInfo) map[string]snapshot.ObjectInfo {
	index := make(map[string]snapshot.ObjectInfo, len(objects))
	for _, o := range objects {
		index[o.ID] = snapshot.ObjectInfo{
			ID:        o.ID,
			Name:      o.Name,
			Layout:    o.Layout,
			HasLayout: true,
			FileExt:   strings.TrimPrefix(path.Ext(o.FileName), "."),
		}
	}
	return index
}

func descriptorOf(info ObjectInfo) archive.ObjectDescriptor {
	d := archive.ObjectDescriptor{ID: info.ID, Name: info.Name, Type: info.TypeKey}
	if !info.LastModified.IsZero() {
		d.LastModified = FormatTimestamp(info.LastModified)
	}
	return d
}
