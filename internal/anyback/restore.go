package anyback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"anyback-go/internal/archive"
	"anyback-go/internal/snapshot"
)

// ImportMode controls how restore reacts to failed objects.
type ImportMode string

const (
	ImportIgnoreErrors ImportMode = "ignore-errors"
	ImportAllOrNothing ImportMode = "all-or-nothing"
)

// ParseImportMode validates an --import-mode value. Empty means ignore-errors.
func ParseImportMode(s string) (ImportMode, error) {
	switch m := ImportMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ImportIgnoreErrors, nil
	case ImportIgnoreErrors, ImportAllOrNothing:
		return m, nil
	default:
		return "", fmt.Errorf("%w: import mode %q (expected ignore-errors or all-or-nothing)", ErrInvalid, s)
	}
}

// RestoreState is a step of the restore state machine.
type RestoreState string

const (
	StateValidating      RestoreState = "validating"
	StateBuildingBatches RestoreState = "building-batches"
	StateImporting       RestoreState = "importing"
	StateReporting       RestoreState = "reporting"
	StateDone            RestoreState = "done"
)

// RestoreRequest describes one restore run.
type RestoreRequest struct {
	Archive string
	// Space is the destination space id or name. It is required.
	Space string

	// IDs or IDSource select a subset of the archive, as for backups.
	IDs      []string
	IDSource string
	Stdin    io.Reader

	Mode    ImportMode
	Replace bool
	// Transport forces "path" or "snapshot". Empty picks automatically.
	Transport  string
	DryRun     bool
	ReportPath string
}

func (r RestoreRequest) explicit() bool {
	return r.IDs != nil || r.IDSource != ""
}

// RestoreResult is the ordered report of a restore run.
type RestoreResult struct {
	RunID           string
	Archive         string
	Space           Space
	Transport       string
	Mode            ImportMode
	DryRun          bool
	Requested       int
	ManifestPresent bool
	// ManifestError is set when a manifest exists but could not be read.
	ManifestError string
	Outcomes      []ImportOutcome
	ReportPath    string
}

// Counts returns the number of succeeded, failed and not attempted objects.
func (r *RestoreResult) Counts() (succeeded, failed, notAttempted int) {
	for _, o := range r.Outcomes {
		switch {
		case o.Success:
			succeeded++
		case !o.Attempted:
			notAttempted++
		default:
			failed++
		}
	}
	return succeeded, failed, notAttempted
}

// Failed applies the exit policy: a run with at least one outcome and no
// successes is a failure. Object failures alone are not.
func (r *RestoreResult) Failed() bool {
	succeeded, _, _ := r.Counts()
	return len(r.Outcomes) > 0 && succeeded == 0
}

// restorePlan is the validated work list, in selection order.
type restorePlan struct {
	positions []planned
}

type planned struct {
	item ImportItem
	// err is set for entries that failed validation and are never sent.
	err error
}

type restoreRun struct {
	s         *Service
	req       RestoreRequest
	res       *RestoreResult
	archive   *archive.Archive
	transport Transport
	plan      restorePlan
	state     RestoreState
}

func (r *restoreRun) enter(st RestoreState) {
	r.s.logger.Info("restore state", "run", r.res.RunID, "from", string(r.state), "to", string(st))
	r.state = st
}

// Restore imports archive entries into a space. It returns an error for
// job-level failures; per-object failures are outcomes in the result. On
// cancellation the result is returned along with the error, with the
// remaining objects reported as not attempted.
func (s *Service) Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	run := &restoreRun{
		s:   s,
		req: req,
		res: &RestoreResult{RunID: s.idgen.New(), Archive: req.Archive, DryRun: req.DryRun, ReportPath: req.ReportPath},
	}
	run.enter(StateValidating)
	if err := run.validate(ctx); err != nil {
		if run.archive != nil {
			run.archive.Close()
		}
		return nil, err
	}
	defer run.archive.Close()

	if req.DryRun {
		run.enter(StateReporting)
		s.logger.Info("restore dry run", "requested", run.res.Requested, "manifest", run.res.ManifestPresent, "transport", run.res.Transport)
		run.enter(StateDone)
		return run.res, nil
	}

	var importErr error
	if run.res.Mode == ImportAllOrNothing {
		importErr = run.importSequential(ctx)
	} else {
		run.enter(StateBuildingBatches)
		batches := run.buildBatches(ctx)
		run.enter(StateImporting)
		importErr = run.importBatches(ctx, batches)
	}

	run.enter(StateReporting)
	if err := run.writeReport(); err != nil {
		return run.res, err
	}
	succeeded, failedCount, skipped := run.res.Counts()
	s.logger.Info("restore finished", "run", run.res.RunID, "succeeded", succeeded, "failed", failedCount, "not_attempted", skipped)
	run.enter(StateDone)
	if importErr != nil {
		return run.res, importErr
	}
	return run.res, nil
}

func (r *restoreRun) validate(ctx context.Context) error {
	s, req := r.s, r.req
	if strings.TrimSpace(req.Space) == "" {
		return fmt.Errorf("%w: a destination --space is required", ErrInvalid)
	}
	mode, err := ParseImportMode(string(req.Mode))
	if err != nil {
		return err
	}
	r.res.Mode = mode
	if err := s.settings.Limits.Validate(); err != nil {
		return fmt.Errorf("import limits: %w", err)
	}

	transport, err := s.pickTransport(req)
	if err != nil {
		return err
	}

	a, err := archive.Open(req.Archive)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	r.archive = a

	space, err := s.space.ResolveSpace(ctx, req.Space)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDestinationNotFound, err)
	}
	r.res.Space = space

	m, err := a.ReadManifest()
	if err != nil {
		s.logger.Warn("manifest unreadable", "archive", req.Archive, "error", err)
		r.res.ManifestError = err.Error()
	}
	r.res.ManifestPresent = m != nil

	files, err := a.Files()
	if err != nil {
		return fmt.Errorf("listing archive: %w", err)
	}
	entries, err := a.ListEntries()
	if err != nil {
		return fmt.Errorf("listing archive entries: %w", err)
	}
	byID := make(map[string]archive.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	var ids []string
	switch {
	case req.explicit():
		ids = req.IDs
		if req.IDSource != "" {
			if ids, err = LoadObjectIDs(req.IDSource, req.Stdin); err != nil {
				return err
			}
		}
	case m != nil:
		ids = m.IDs()
	default:
		ids = archive.InferObjectIDs(files)
	}
	ids = dedupe(ids)
	r.res.Requested = len(ids)

	opts := ImportOptions{Replace: req.Replace}
	switch transport {
	case TransportSnapshot:
		r.transport = NewSnapshotTransport(s.space, space.ID, a, opts)
	default:
		r.transport = NewPathTransport(s.space, space.ID, a.Path(), opts)
	}
	r.res.Transport = r.transport.Name()

	matched := 0
	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
		e, ok := byID[id]
		if !ok {
			r.plan.positions = append(r.plan.positions, planned{
				item: ImportItem{ID: id},
				err:  objectError(id, StageImport, ErrObjectNotFound),
			})
			continue
		}
		matched++
		r.plan.positions = append(r.plan.positions, planned{item: importItem(e, files, transport)})
	}

	if req.explicit() {
		if len(ids) > 0 && matched == 0 {
			return fmt.Errorf("%w: none of the %d requested objects are in the archive", ErrInvalid, len(ids))
		}
		if transport == TransportSnapshot {
			for _, e := range entries {
				if requested[e.ID] || !supporting(a, e) {
					continue
				}
				r.plan.positions = append(r.plan.positions, planned{item: importItem(e, files, transport)})
			}
		}
	}

	s.logger.Info("restore validated", "archive", req.Archive, "space", space.ID, "requested", len(ids), "matched", matched, "planned", len(r.plan.positions), "transport", r.res.Transport, "mode", string(mode))
	return nil
}

func (s *Service) pickTransport(req RestoreRequest) (string, error) {
	switch req.Transport {
	case TransportPath, TransportSnapshot:
		return req.Transport, nil
	case "":
	default:
		return "", fmt.Errorf("%w: transport %q (expected path or snapshot)", ErrInvalid, req.Transport)
	}
	if !req.explicit() {
		return TransportPath, nil
	}
	if !s.settings.SnapshotImport {
		return "", fmt.Errorf("%w: --objects needs the snapshot transport, which is disabled by import.snapshot_transport", ErrInvalid)
	}
	return TransportSnapshot, nil
}

// supporting reports whether an entry describes the space itself (workspace,
// widgets, space view).
func supporting(a *archive.Archive, e archive.Entry) bool {
	if !e.Format.Structured() {
		return false
	}
	data, format, err := a.ReadSnapshot(e.ID)
	if err != nil {
		return false
	}
	snap, err := snapshot.DecodeFormat(format, data)
	if err != nil {
		return false
	}
	return snap.SBType.Supporting()
}

// importItem sizes an entry for batching. The snapshot transport sends the
// file blob in the same request, so its bytes count too.
func importItem(e archive.Entry, files []archive.FileEntry, transport string) ImportItem {
	item := ImportItem{ID: e.ID, Path: e.Path, Size: e.Size}
	if blob, ok := archive.BlobEntry(files, e.ID); ok {
		item.FilePath = blob.Path
		if transport == TransportSnapshot {
			item.Size += blob.Size
		}
	}
	return item
}

// precheck fails entries that must not be sent: validation failures, and
// objects that already exist when --replace is off.
func (r *restoreRun) precheck(ctx context.Context, p planned) error {
	if p.err != nil {
		return p.err
	}
	if r.req.Replace {
		return nil
	}
	exists, err := r.s.space.ObjectExists(ctx, r.res.Space.ID, p.item.ID)
	if err != nil {
		return objectError(p.item.ID, StageImport, fmt.Errorf("%w: checking existing object: %v", ErrTransportFailure, err))
	}
	if exists {
		return objectError(p.item.ID, StageImport, fmt.Errorf("%w: exists; use --replace", ErrAlreadyExists))
	}
	return nil
}

func (r *restoreRun) buildBatches(ctx context.Context) [][]ImportItem {
	r.res.Outcomes = make([]ImportOutcome, len(r.plan.positions))
	var sendable []ImportItem
	for i, p := range r.plan.positions {
		if err := r.precheck(ctx, p); err != nil {
			r.res.Outcomes[i] = failed(p.item.ID, err)
			continue
		}
		sendable = append(sendable, p.item)
	}

	limits := r.s.settings.Limits
	plan := PlanBatches(sendable, limits)
	rejected := make(map[string]ImportItem, len(plan.Rejected))
	for _, item := range plan.Rejected {
		rejected[item.ID] = item
	}
	for i, p := range r.plan.positions {
		if item, ok := rejected[p.item.ID]; ok && r.res.Outcomes[i].ID == "" {
			r.res.Outcomes[i] = failed(item.ID, objectError(item.ID, StageBatch, oversizeError(item, limits)))
		}
	}
	r.s.logger.Info("restore batches planned", "batches", len(plan.Batches), "rejected", len(plan.Rejected))
	return plan.Batches
}

func (r *restoreRun) positionsByID() map[string]int {
	pos := make(map[string]int, len(r.plan.positions))
	for i, p := range r.plan.positions {
		if _, ok := pos[p.item.ID]; !ok {
			pos[p.item.ID] = i
		}
	}
	return pos
}

func (r *restoreRun) importBatches(ctx context.Context, batches [][]ImportItem) error {
	pos := r.positionsByID()
	for n, batch := range batches {
		if err := ctx.Err(); err != nil {
			for _, rest := range batches[n:] {
				for _, item := range rest {
					r.res.Outcomes[pos[item.ID]] = notAttempted(item.ID)
				}
			}
			return fmt.Errorf("restore canceled: %w", err)
		}
		outcomes, err := r.transport.SubmitBatch(ctx, batch)
		if err != nil {
			r.s.logger.Error("import batch failed", "batch", n, "items", len(batch), "error", err)
			for _, item := range batch {
				r.res.Outcomes[pos[item.ID]] = failed(item.ID, objectError(item.ID, StageImport, fmt.Errorf("%w: %v", ErrTransportFailure, err)))
			}
			continue
		}
		for _, o := range outcomes {
			r.res.Outcomes[pos[o.ID]] = o
		}
		r.s.logger.Debug("import batch done", "batch", n, "items", len(batch))
	}
	return nil
}

// importSequential submits one entry at a time and stops at the first failure.
// Everything after it is reported as not attempted.
func (r *restoreRun) importSequential(ctx context.Context) error {
	r.enter(StateImporting)
	limits := r.s.settings.Limits
	r.res.Outcomes = make([]ImportOutcome, 0, len(r.plan.positions))

	var stopErr error
	stopped := false
	for _, p := range r.plan.positions {
		if stopped {
			r.res.Outcomes = append(r.res.Outcomes, notAttempted(p.item.ID))
			continue
		}
		if err := ctx.Err(); err != nil {
			stopped = true
			stopErr = fmt.Errorf("restore canceled: %w", err)
			r.res.Outcomes = append(r.res.Outcomes, notAttempted(p.item.ID))
			continue
		}

		outcome := r.submitChecked(ctx, p, limits)
		r.res.Outcomes = append(r.res.Outcomes, outcome)
		if !outcome.Success {
			r.s.logger.Warn("stopping restore at first failure", "id", outcome.ID, "error", outcome.Error)
			stopped = true
		}
	}
	return stopErr
}

func (r *restoreRun) submitChecked(ctx context.Context, p planned, limits ImportLimits) ImportOutcome {
	if err := r.precheck(ctx, p); err != nil {
		return failed(p.item.ID, err)
	}
	if p.item.Size > limits.MaxSingleBytes {
		return failed(p.item.ID, objectError(p.item.ID, StageBatch, oversizeError(p.item, limits)))
	}
	outcome, err := r.transport.SubmitSingle(ctx, p.item)
	if err != nil {
		return failed(p.item.ID, objectError(p.item.ID, StageImport, fmt.Errorf("%w: %v", ErrTransportFailure, err)))
	}
	return outcome
}

// IsNotAttempted reports whether an outcome error marks a skipped object.
func IsNotAttempted(err error) bool {
	return errors.Is(err, errNotAttempted)
}
