package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"anyback-go/internal/anyback"
	"anyback-go/internal/app"
	"anyback-go/internal/snapshot"
)

type backupFailureView struct {
	ID    string `json:"id"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

type backupView struct {
	Path         string              `json:"path"`
	Kind         string              `json:"kind"`
	SpaceID      string              `json:"space_id"`
	SpaceName    string              `json:"space_name"`
	ManifestKind string              `json:"manifest_kind,omitempty"`
	Selected     int                 `json:"selected"`
	Captured     int                 `json:"captured"`
	Files        int                 `json:"files"`
	Failures     []backupFailureView `json:"failures"`
}

func newBackupView(res *anyback.BackupResult) backupView {
	v := backupView{
		Path:      res.Path,
		Kind:      res.Kind.String(),
		SpaceID:   res.Space.ID,
		SpaceName: res.Space.Name,
		Selected:  res.Selected,
		Captured:  res.Captured,
		Files:     res.Files,
		Failures:  []backupFailureView{},
	}
	if res.Manifest != nil {
		v.ManifestKind = res.Manifest.Kind
	}
	for _, f := range res.Failures {
		v.Failures = append(v.Failures, backupFailureView{ID: f.ID, Stage: f.Stage, Error: errString(f.Err)})
	}
	return v
}

var backupCmd = &cobra.Command{
	Use:     "backup",
	Aliases: []string{"export"},
	Short:   "Back up a space into a new archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		spaceRef, _ := flags.GetString("space")
		dest, _ := flags.GetString("dest")
		dir, _ := flags.GetString("dir")
		prefix, _ := flags.GetString("prefix")
		rawFormat, _ := flags.GetString("format")
		mode, _ := flags.GetString("mode")
		rawSince, _ := flags.GetString("since")
		rawSinceMode, _ := flags.GetString("since-mode")
		types, _ := flags.GetStringSlice("types")
		objects, _ := flags.GetString("objects")
		includeFiles, _ := flags.GetBool("include-files")
		includeNested, _ := flags.GetBool("include-nested")
		includeArchived, _ := flags.GetBool("include-archived")
		workers, _ := flags.GetInt("workers")

		format, err := snapshot.ParseFormat(rawFormat)
		if err != nil {
			return err
		}
		sinceMode, err := anyback.ParseSinceMode(rawSinceMode)
		if err != nil {
			return err
		}
		var since *time.Time
		if rawSince != "" {
			t, err := anyback.ParseSince(rawSince, time.Local)
			if err != nil {
				return err
			}
			since = &t
		}

		a, err := newApp(cmd, "backup", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Backup(cmd.Context(), anyback.BackupRequest{
			Space: spaceRef,
			Select: anyback.SelectRequest{
				IDSource:        objects,
				Stdin:           os.Stdin,
				Since:           since,
				SinceMode:       sinceMode,
				Types:           types,
				IncludeArchived: includeArchived,
				IncludeNested:   includeNested,
			},
			Target:       anyback.TargetRequest{Dest: dest, Dir: dir, Prefix: prefix},
			Format:       format,
			Mode:         mode,
			IncludeFiles: includeFiles,
			Workers:      workers,
		})
		if err != nil {
			return err
		}

		if jsonOutput(cmd) {
			return printJSON(os.Stdout, newBackupView(res))
		}
		fmt.Printf("%s %s\n", paint(okStyle, "wrote"), res.Path)
		fmt.Printf("space %s (%s): %d selected, %d captured", res.Space.Name, res.Space.ID, res.Selected, res.Captured)
		if includeFiles {
			fmt.Printf(", %d files", res.Files)
		}
		fmt.Println()
		for _, f := range res.Failures {
			fmt.Printf("%s %s (%s): %v\n", paint(failStyle, "failed"), f.ID, f.Stage, f.Err)
		}
		return nil
	},
}

type restoreView struct {
	RunID           string                  `json:"run_id"`
	Archive         string                  `json:"archive"`
	SpaceID         string                  `json:"space_id"`
	Transport       string                  `json:"transport"`
	Mode            string                  `json:"mode"`
	DryRun          bool                    `json:"dry_run"`
	ManifestPresent bool                    `json:"manifest_present"`
	ManifestError   string                  `json:"manifest_error,omitempty"`
	Succeeded       int                     `json:"succeeded"`
	Failed          int                     `json:"failed"`
	NotAttempted    int                     `json:"not_attempted"`
	Outcomes        []anyback.ImportOutcome `json:"outcomes"`
}

func newRestoreView(res *anyback.RestoreResult) restoreView {
	ok, failed, skipped := res.Counts()
	v := restoreView{
		RunID:           res.RunID,
		Archive:         res.Archive,
		SpaceID:         res.Space.ID,
		Transport:       res.Transport,
		Mode:            string(res.Mode),
		DryRun:          res.DryRun,
		ManifestPresent: res.ManifestPresent,
		ManifestError:   res.ManifestError,
		Succeeded:       ok,
		Failed:          failed,
		NotAttempted:    skipped,
		Outcomes:        res.Outcomes,
	}
	if v.Outcomes == nil {
		v.Outcomes = []anyback.ImportOutcome{}
	}
	return v
}

var restoreCmd = &cobra.Command{
	Use:     "restore ARCHIVE",
	Aliases: []string{"import"},
	Short:   "Restore objects from an archive into a space",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		spaceRef, _ := flags.GetString("space")
		objects, _ := flags.GetString("objects")
		rawMode, _ := flags.GetString("import-mode")
		replace, _ := flags.GetBool("replace")
		transport, _ := flags.GetString("transport")
		dryRun, _ := flags.GetBool("dry-run")
		reportPath, _ := flags.GetString("log")

		mode, err := anyback.ParseImportMode(rawMode)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "restore", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Restore(cmd.Context(), anyback.RestoreRequest{
			Archive:    args[0],
			Space:      spaceRef,
			IDSource:   objects,
			Stdin:      os.Stdin,
			Mode:       mode,
			Replace:    replace,
			Transport:  transport,
			DryRun:     dryRun,
			ReportPath: reportPath,
		})
		if res != nil {
			if jsonOutput(cmd) {
				if perr := printJSON(os.Stdout, newRestoreView(res)); perr != nil && err == nil {
					err = perr
				}
			} else {
				printRestore(res)
			}
		}
		return err
	},
}

func printRestore(res *anyback.RestoreResult) {
	if res.ManifestError != "" {
		fmt.Printf("%s manifest unreadable: %s\n", paint(failStyle, "warning"), res.ManifestError)
	} else if !res.ManifestPresent {
		fmt.Println(paint(dimStyle, "no manifest; ids inferred from archive entries"))
	}

	verb := "restored"
	if res.DryRun {
		verb = "would restore"
	}
	for _, o := range res.Outcomes {
		switch {
		case o.Success:
			fmt.Printf("%s %s\n", paint(okStyle, verb), o.ID)
		case !o.Attempted:
			fmt.Printf("%s %s\n", paint(dimStyle, "skipped"), o.ID)
		default:
			fmt.Printf("%s %s: %s\n", paint(failStyle, "failed"), o.ID, o.Error)
		}
	}

	ok, failed, skipped := res.Counts()
	parts := []string{fmt.Sprintf("%d succeeded", ok), fmt.Sprintf("%d failed", failed)}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d not attempted", skipped))
	}
	fmt.Printf("%s via %s transport into %s\n", strings.Join(parts, ", "), res.Transport, res.Space.ID)
	if res.ReportPath != "" {
		fmt.Printf("report written to %s\n", res.ReportPath)
	}
}

func init() {
	f := backupCmd.Flags()
	f.String("space", "", "Space id or name (required)")
	f.String("dest", "", "Archive path; a .zip suffix writes a zip, anything else a directory")
	f.String("dir", "", "Directory for a generated archive name (default: [backup] dir or .)")
	f.String("prefix", "", "Prefix for a generated archive name")
	f.String("format", string(snapshot.FormatPB), "Snapshot format: pb, pb-json or markdown")
	f.String("mode", "", "Backup mode: full or incremental (default: inferred from --since)")
	f.String("since", "", "Only objects modified after this RFC3339 or unix-millis timestamp")
	f.String("since-mode", string(anyback.SinceExclusive), "Whether --since is exclusive or inclusive")
	f.StringSlice("types", nil, "Only objects of these type keys")
	f.String("objects", "", "File with one object id per line, or - for stdin")
	f.Bool("include-files", false, "Copy file blobs referenced by the objects")
	f.Bool("include-nested", false, "Also capture objects linked from the selection")
	f.Bool("include-archived", false, "Also capture archived objects")
	f.Int("workers", 0, "Concurrent snapshot fetches (default: [backup] workers)")
	backupCmd.MarkFlagRequired("space")

	f = restoreCmd.Flags()
	f.String("space", "", "Destination space id or name (required)")
	f.String("objects", "", "File with one object id per line, or - for stdin")
	f.String("import-mode", string(anyback.ImportIgnoreErrors), "ignore-errors or all-or-nothing")
	f.Bool("replace", false, "Overwrite objects that already exist in the space")
	f.String("transport", "", "Force the path or snapshot transport")
	f.Bool("dry-run", false, "Validate and report without importing")
	f.String("log", "", "Write the JSON import report to this path")
	restoreCmd.MarkFlagRequired("space")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}
