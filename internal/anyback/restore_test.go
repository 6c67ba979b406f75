package anyback_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"testing"

	"anyback-go/internal/anyback"
	"anyback-go/internal/archive"
	"anyback-go/internal/generator"
	"anyback-go/internal/snapshot"
	"anyback-go/internal/testutil"
)

func TestRestore_RoundTrip(t *testing.T) {
	e := newEnv(t, pageFx, taskFx, fileFx)
	dest := e.path("round.zip")
	e.backup(dest, anyback.SelectRequest{IncludeArchived: true}, true)

	dst := e.destSpace("Fresh")
	res, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if res.Transport != anyback.TransportPath || !res.ManifestPresent || res.Requested != 3 {
		t.Errorf("Restore() = %+v", res)
	}
	want := fingerprints(t, e.store, e.source.ID)
	got := fingerprints(t, e.store, dst.ID)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("restored fingerprints = %v, want %v", got, want)
	}
}

func TestRestore_GeneratedRoundTrip(t *testing.T) {
	plan, err := generator.Generate(mustProfile(t, "small"), generator.DefaultSeed, testutil.FixedTime)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	e := newEnv(t)
	if _, err := generator.Seed(context.Background(), e.store, e.source.ID, plan, testutil.FixedClock()); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	dest := e.path("generated.zip")
	res := e.backup(dest, anyback.SelectRequest{IncludeArchived: true}, true)
	if res.Captured != len(plan.Objects()) {
		t.Fatalf("Captured = %d, want %d", res.Captured, len(plan.Objects()))
	}

	dst := e.destSpace("Fresh")
	rr, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if ok, failed, _ := rr.Counts(); ok != len(plan.Objects()) || failed != 0 {
		t.Errorf("Counts() = %d ok, %d failed; want %d ok", ok, failed, len(plan.Objects()))
	}
	want := fingerprints(t, e.store, e.source.ID)
	got := fingerprints(t, e.store, dst.ID)
	if len(got) != len(want) {
		t.Fatalf("restored %d objects, want %d", len(got), len(want))
	}
	for id, fp := range want {
		if got[id] != fp {
			t.Errorf("%s: fingerprint %s, want %s", id, got[id], fp)
		}
	}
}

func mustProfile(t *testing.T, name string) generator.Profile {
	t.Helper()
	p, err := generator.LookupProfile(name)
	if err != nil {
		t.Fatalf("LookupProfile(%s) error = %v", name, err)
	}
	return p
}

func TestRestore_ImportModes(t *testing.T) {
	docs := fixtures(5)
	bad := docs[1].ID

	tests := []struct {
		mode                anyback.ImportMode
		ok, failed, skipped int
	}{
		{anyback.ImportAllOrNothing, 1, 1, 3},
		{anyback.ImportIgnoreErrors, 4, 1, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			e := newEnv(t, docs...)
			dest := e.path("five.zip")
			e.backup(dest, anyback.SelectRequest{}, false)
			e.faulty.importErr[bad] = errors.New("rejected by space")

			dst := e.destSpace("Fresh")
			res, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID, Mode: tt.mode})
			if err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			ok, failed, skipped := res.Counts()
			if ok != tt.ok || failed != tt.failed || skipped != tt.skipped {
				t.Errorf("Counts() = %d/%d/%d, want %d/%d/%d", ok, failed, skipped, tt.ok, tt.failed, tt.skipped)
			}
			for i, o := range res.Outcomes {
				if o.ID != docs[i].ID {
					t.Errorf("outcome %d is %s, want %s", i, o.ID, docs[i].ID)
				}
			}
			if res.Outcomes[1].Success || res.Outcomes[1].Error == "" {
				t.Errorf("outcome of %s = %+v, want failure", bad, res.Outcomes[1])
			}
			if tt.mode == anyback.ImportAllOrNothing {
				for _, o := range res.Outcomes[2:] {
					if o.Attempted || o.Error != "not attempted" || !anyback.IsNotAttempted(o.Err) {
						t.Errorf("outcome %+v, want not attempted", o)
					}
				}
				for _, call := range e.faulty.calls() {
					if len(call) != 1 {
						t.Errorf("all-or-nothing submitted %d items in one call", len(call))
					}
				}
			}
			if res.Failed() {
				t.Errorf("Failed() = true with successes present")
			}
		})
	}
}

func TestRestore_ExistingObjects(t *testing.T) {
	e := newEnv(t, pageFx, taskFx)
	dest := e.path("again.zip")
	e.backup(dest, anyback.SelectRequest{}, false)

	res, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: e.source.ID})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	for _, o := range res.Outcomes {
		if o.Success || !errors.Is(o.Err, anyback.ErrAlreadyExists) {
			t.Errorf("outcome %+v, want ErrAlreadyExists", o)
		}
	}
	if !res.Failed() {
		t.Errorf("Failed() = false with no successes")
	}
	if len(e.faulty.calls()) != 0 {
		t.Errorf("existing objects were submitted: %v", e.faulty.calls())
	}

	res, err = e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: e.source.ID, Replace: true})
	if err != nil {
		t.Fatalf("Restore(--replace) error = %v", err)
	}
	if ok, _, _ := res.Counts(); ok != 2 {
		t.Errorf("Restore(--replace) succeeded %d, want 2", ok)
	}
}

func TestRestore_DryRun(t *testing.T) {
	e := newEnv(t, pageFx, taskFx)
	dest := e.path("dry.zip")
	e.backup(dest, anyback.SelectRequest{}, false)

	dst := e.destSpace("Fresh")
	res, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID, DryRun: true})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !res.DryRun || res.Requested != 2 || !res.ManifestPresent || len(res.Outcomes) != 0 {
		t.Errorf("Restore(dry run) = %+v", res)
	}
	objs, err := e.store.ListObjects(context.Background(), dst.ID, anyback.ObjectFilter{IncludeArchived: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 0 {
		t.Errorf("dry run imported %d objects", len(objs))
	}
}

func TestRestore_WithoutManifestInfersIDs(t *testing.T) {
	e := newEnv(t)
	dest := e.path("desktop")
	testutil.WriteArchive(t, dest, nil, pageFx, taskFx)

	dst := e.destSpace("Fresh")
	res, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if res.ManifestPresent || res.Requested != 2 {
		t.Errorf("Restore() manifest present = %v, requested = %d", res.ManifestPresent, res.Requested)
	}
	if ok, _, _ := res.Counts(); ok != 2 {
		t.Errorf("succeeded %d, want 2", ok)
	}
}

func TestRestore_UnreadableManifestIsReported(t *testing.T) {
	e := newEnv(t)
	dest := e.path("broken.zip")
	testutil.WriteArchive(t, dest, nil, pageFx)
	if err := os.WriteFile(archive.SidecarPath(dest), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	dst := e.destSpace("Fresh")
	res, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if res.ManifestError == "" || res.ManifestPresent {
		t.Errorf("ManifestError = %q, present = %v", res.ManifestError, res.ManifestPresent)
	}
	if ok, _, _ := res.Counts(); ok != 1 {
		t.Errorf("succeeded %d, want 1", ok)
	}
}

func TestRestore_RepeatedManifestIDs(t *testing.T) {
	e := newEnv(t)
	dest := e.path("repeated.zip")
	m := testutil.ManifestFor("src", "Source", pageFx, taskFx)
	m.Objects = append(m.Objects, m.Objects[0])
	testutil.WriteArchive(t, dest, m, pageFx, taskFx)

	for _, transport := range []string{anyback.TransportPath, anyback.TransportSnapshot} {
		t.Run(transport, func(t *testing.T) {
			reportPath := e.path(transport + "-report.json")
			dst := e.destSpace("Repeated " + transport)
			res, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{
				Archive: dest, Space: dst.ID, Transport: transport, ReportPath: reportPath,
			})
			if err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			if res.Requested != 2 || len(res.Outcomes) != 2 {
				t.Fatalf("Requested = %d, outcomes = %d; want 2 and 2", res.Requested, len(res.Outcomes))
			}
			for _, o := range res.Outcomes {
				if o.ID == "" || !o.Success {
					t.Errorf("outcome %+v, want a successful import with an id", o)
				}
			}

			data, err := os.ReadFile(reportPath)
			if err != nil {
				t.Fatalf("reading report: %v", err)
			}
			var report []map[string]any
			if err := json.Unmarshal(data, &report); err != nil {
				t.Fatalf("report is not JSON: %v", err)
			}
			for i, entry := range report {
				if entry["id"] == "" || entry["id"] == nil {
					t.Errorf("report[%d] has no id: %v", i, entry)
				}
			}
		})
	}
}

func TestRestore_SelectedObjects(t *testing.T) {
	workspace := testutil.Fixture{ID: testutil.ObjectID(50), Name: "Workspace", SBType: snapshot.SmartBlockWorkspace}
	e := newEnv(t)
	dest := e.path("selected.zip")
	testutil.WriteArchive(t, dest, testutil.ManifestFor("src", "Source", pageFx, taskFx, workspace), pageFx, taskFx, workspace)

	t.Run("snapshot transport keeps support objects", func(t *testing.T) {
		dst := e.destSpace("Selected")
		res, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID, IDs: []string{taskFx.ID}})
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if res.Transport != anyback.TransportSnapshot {
			t.Errorf("Transport = %s, want snapshot", res.Transport)
		}
		var ids []string
		for _, o := range res.Outcomes {
			ids = append(ids, o.ID)
		}
		if want := []string{taskFx.ID, workspace.ID}; !reflect.DeepEqual(ids, want) {
			t.Errorf("outcome ids = %v, want %v", ids, want)
		}
		if res.Requested != 1 {
			t.Errorf("Requested = %d, want 1", res.Requested)
		}
	})

	t.Run("unknown ids only", func(t *testing.T) {
		dst := e.destSpace("Nothing")
		_, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID, IDs: []string{"bafyreimissing"}})
		if !errors.Is(err, anyback.ErrInvalid) {
			t.Errorf("Restore() error = %v, want ErrInvalid", err)
		}
	})

	t.Run("some ids missing", func(t *testing.T) {
		dst := e.destSpace("Partial")
		res, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID, IDs: []string{"bafyreimissing", pageFx.ID}, Transport: anyback.TransportPath})
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if !errors.Is(res.Outcomes[0].Err, anyback.ErrObjectNotFound) || !res.Outcomes[1].Success || len(res.Outcomes) != 2 {
			t.Errorf("Outcomes = %+v", res.Outcomes)
		}
	})

	t.Run("snapshot transport disabled", func(t *testing.T) {
		settings := anyback.DefaultSettings()
		settings.SnapshotImport = false
		e2 := newEnvWith(t, settings)
		_, err := e2.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: e2.source.ID, IDs: []string{pageFx.ID}})
		if !errors.Is(err, anyback.ErrInvalid) {
			t.Errorf("Restore() error = %v, want ErrInvalid", err)
		}
	})
}

func TestRestore_SnapshotTransportRejectsJSON(t *testing.T) {
	e := newEnv(t, pageFx)
	dest := e.path("json")
	if _, err := e.svc.Backup(context.Background(), anyback.BackupRequest{Space: e.source.ID, Format: snapshot.FormatPBJSON, Target: anyback.TargetRequest{Dest: dest}}); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	dst := e.destSpace("Fresh")

	res, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID, Transport: anyback.TransportSnapshot})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(res.Outcomes) != 1 || !errors.Is(res.Outcomes[0].Err, anyback.ErrUnsupportedFormat) {
		t.Errorf("Outcomes = %+v, want ErrUnsupportedFormat", res.Outcomes)
	}

	res, err = e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID})
	if err != nil {
		t.Fatalf("Restore(path) error = %v", err)
	}
	if ok, _, _ := res.Counts(); ok != 1 {
		t.Errorf("path transport succeeded %d, want 1", ok)
	}
}

func TestRestore_Limits(t *testing.T) {
	docs := fixtures(6)
	settings := anyback.DefaultSettings()
	e := newEnvWith(t, settings, docs...)
	dest := e.path("limits")
	e.backup(dest, anyback.SelectRequest{}, false)

	entries, err := openArchive(t, dest).ListEntries()
	if err != nil {
		t.Fatal(err)
	}
	var largest int64
	for _, en := range entries {
		largest = max(largest, en.Size)
	}

	settings.Limits = anyback.ImportLimits{MaxSingleBytes: largest - 1, MaxBatchBytes: largest * 10, MaxBatchSnapshots: 2}
	limited := newEnvWith(t, settings)
	res, err := limited.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: limited.source.ID})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	rejected := make(map[string]bool)
	for _, o := range res.Outcomes {
		if errors.Is(o.Err, anyback.ErrLimitExceeded) {
			rejected[o.ID] = true
		}
	}
	if len(rejected) == 0 {
		t.Fatalf("no entry rejected as oversize: %+v", res.Outcomes)
	}
	for _, call := range limited.faulty.calls() {
		if len(call) > 2 {
			t.Errorf("batch of %d items exceeds the snapshot limit", len(call))
		}
		for _, id := range call {
			if rejected[id] {
				t.Errorf("oversize entry %s was submitted", id)
			}
		}
	}
}

func TestRestore_BatchErrorFailsWholeBatch(t *testing.T) {
	e := newEnv(t, fixtures(3)...)
	dest := e.path("batch.zip")
	e.backup(dest, anyback.SelectRequest{}, false)
	e.faulty.batchErr = errors.New("connection reset")

	dst := e.destSpace("Fresh")
	res, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	for _, o := range res.Outcomes {
		if !errors.Is(o.Err, anyback.ErrTransportFailure) || !o.Attempted {
			t.Errorf("outcome %+v, want attempted ErrTransportFailure", o)
		}
	}
	if !res.Failed() {
		t.Errorf("Failed() = false, want true")
	}
}

func TestRestore_Report(t *testing.T) {
	docs := fixtures(2)
	e := newEnv(t, docs...)
	dest := e.path("report.zip")
	e.backup(dest, anyback.SelectRequest{}, false)
	e.faulty.importErr[docs[0].ID] = errors.New("boom")

	reportPath := e.path("report.json")
	dst := e.destSpace("Fresh")
	if _, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID, ReportPath: reportPath}); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var report []map[string]any
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report is not JSON: %v\n%s", err, data)
	}
	if len(report) != 2 {
		t.Fatalf("report has %d entries, want 2", len(report))
	}
	if report[0]["id"] != docs[0].ID || report[0]["success"] != false || report[0]["error"] == nil {
		t.Errorf("report[0] = %v", report[0])
	}
	if _, hasErr := report[1]["error"]; report[1]["success"] != true || hasErr {
		t.Errorf("report[1] = %v, want success without error", report[1])
	}
}

func TestRestore_SnapshotLimitsCountFileBlobs(t *testing.T) {
	big := fileFx
	big.File = bytes.Repeat([]byte("\x89PNG"), 4096)
	settings := anyback.DefaultSettings()
	e := newEnvWith(t, settings, pageFx, big)
	dest := e.path("blobs.zip")
	e.backup(dest, anyback.SelectRequest{}, true)

	entries, err := openArchive(t, dest).ListEntries()
	if err != nil {
		t.Fatal(err)
	}
	var largest int64
	for _, en := range entries {
		largest = max(largest, en.Size)
	}

	settings.Limits = anyback.ImportLimits{MaxSingleBytes: largest + 1024, MaxBatchBytes: largest * 10, MaxBatchSnapshots: 10}
	limited := newEnvWith(t, settings)

	tests := []struct {
		transport string
		wantOK    int
		rejected  bool
	}{
		{anyback.TransportSnapshot, 1, true},
		{anyback.TransportPath, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.transport, func(t *testing.T) {
			dst := limited.destSpace("Limited " + tt.transport)
			res, err := limited.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: dest, Space: dst.ID, Transport: tt.transport})
			if err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			if ok, _, _ := res.Counts(); ok != tt.wantOK {
				t.Errorf("succeeded %d, want %d: %+v", ok, tt.wantOK, res.Outcomes)
			}
			var rejected bool
			for _, o := range res.Outcomes {
				if errors.Is(o.Err, anyback.ErrLimitExceeded) && o.ID == big.ID {
					rejected = true
				}
			}
			if rejected != tt.rejected {
				t.Errorf("file object rejected = %v, want %v: %+v", rejected, tt.rejected, res.Outcomes)
			}
		})
	}
}

func TestRestore_SetupErrors(t *testing.T) {
	e := newEnv(t, pageFx)
	dest := e.path("setup.zip")
	e.backup(dest, anyback.SelectRequest{}, false)

	tests := []struct {
		name    string
		req     anyback.RestoreRequest
		wantErr error
	}{
		{"no space", anyback.RestoreRequest{Archive: dest}, anyback.ErrInvalid},
		{"unknown space", anyback.RestoreRequest{Archive: dest, Space: "Nowhere"}, anyback.ErrSpaceNotFound},
		{"unknown space is a missing destination", anyback.RestoreRequest{Archive: dest, Space: "Nowhere"}, anyback.ErrDestinationNotFound},
		{"missing archive", anyback.RestoreRequest{Archive: e.path("nope.zip"), Space: e.source.ID}, anyback.ErrNotFound},
		{"bad mode", anyback.RestoreRequest{Archive: dest, Space: e.source.ID, Mode: "best-effort"}, anyback.ErrInvalid},
		{"bad transport", anyback.RestoreRequest{Archive: dest, Space: e.source.ID, Transport: "carrier-pigeon"}, anyback.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.svc.Restore(context.Background(), tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Restore() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRestore_InvalidLimits(t *testing.T) {
	settings := anyback.DefaultSettings()
	settings.Limits.MaxBatchBytes = settings.Limits.MaxSingleBytes - 1
	e := newEnvWith(t, settings, pageFx)
	_, err := e.svc.Restore(context.Background(), anyback.RestoreRequest{Archive: e.path("x.zip"), Space: e.source.ID})
	if !errors.Is(err, anyback.ErrInvalid) {
		t.Errorf("Restore() error = %v, want ErrInvalid", err)
	}
}

func TestRestore_CanceledReportsRemaining(t *testing.T) {
	e := newEnv(t, fixtures(3)...)
	dest := e.path("cancel.zip")
	e.backup(dest, anyback.SelectRequest{}, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dst := e.destSpace("Fresh")
	res, err := e.svc.Restore(ctx, anyback.RestoreRequest{Archive: dest, Space: dst.ID})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Restore() error = %v, want context.Canceled", err)
	}
	if _, _, skipped := res.Counts(); skipped != 3 {
		t.Errorf("not attempted = %d, want 3", skipped)
	}
}
