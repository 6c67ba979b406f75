package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"anyback-go/internal/app"
	"anyback-go/internal/archive"
	"anyback-go/internal/diff"
	"anyback-go/internal/inspect"
)

type listEntryView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Format   string `json:"format"`
	Bytes    int64  `json:"bytes"`
	Readable bool   `json:"readable"`
	Error    string `json:"error,omitempty"`
}

type listView struct {
	Archive       string              `json:"archive"`
	Source        string              `json:"source"`
	Manifest      *archive.Manifest   `json:"manifest,omitempty"`
	ManifestError string              `json:"manifest_error,omitempty"`
	ObjectCount   int                 `json:"object_count"`
	FileCount     int                 `json:"file_count"`
	TotalBytes    int64               `json:"total_bytes"`
	Objects       []listEntryView     `json:"objects,omitempty"`
	Files         []archive.FileEntry `json:"files,omitempty"`
}

func manifestState(idx *inspect.Index) string {
	switch {
	case idx.ManifestError != "":
		return "unreadable (" + idx.ManifestError + ")"
	case idx.Manifest == nil:
		return "none"
	}
	m := idx.Manifest
	s := fmt.Sprintf("%s backup of %s (%s), %d objects, %s", m.Kind, m.SourceSpaceName, m.SourceSpaceID, m.ObjectCount, m.Format)
	if m.CreatedAtDisplay != "" {
		s += ", created " + m.CreatedAtDisplay
	}
	if m.SinceDisplay != "" {
		s += ", since " + m.SinceDisplay
	}
	return s
}

var listCmd = &cobra.Command{
	Use:   "list ARCHIVE",
	Short: "Summarize the contents of an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		brief, _ := cmd.Flags().GetBool("brief")
		expanded, _ := cmd.Flags().GetBool("expanded")
		showFiles, _ := cmd.Flags().GetBool("files")

		a, err := archive.Open(args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		idx, err := inspect.BuildIndex(a)
		if err != nil {
			return err
		}
		var files []archive.FileEntry
		if showFiles {
			if files, err = a.Files(); err != nil {
				return err
			}
		}

		if jsonOutput(cmd) {
			v := listView{
				Archive:       idx.Path,
				Source:        string(idx.Source),
				Manifest:      idx.Manifest,
				ManifestError: idx.ManifestError,
				ObjectCount:   len(idx.Entries),
				FileCount:     idx.FileCount,
				TotalBytes:    idx.TotalBytes,
				Files:         files,
			}
			if !brief && !showFiles {
				for _, e := range idx.Entries {
					v.Objects = append(v.Objects, listEntryView{
						ID: e.ID, Name: e.Name, Type: e.TypeKey, Format: string(e.Format),
						Bytes: e.Size, Readable: e.Readable, Error: e.Error,
					})
				}
			}
			return printJSON(os.Stdout, v)
		}

		fmt.Printf("%-10s %s\n", "archive:", idx.Path)
		fmt.Printf("%-10s %s\n", "source:", idx.Source)
		fmt.Printf("%-10s %s\n", "manifest:", manifestState(idx))
		fmt.Printf("%-10s %d\n", "objects:", len(idx.Entries))
		fmt.Printf("%-10s %d (%s)\n", "files:", idx.FileCount, humanize.IBytes(uint64(idx.TotalBytes)))

		switch {
		case brief:
		case showFiles:
			fmt.Println()
			for _, f := range files {
				fmt.Printf("%10d  %s\n", f.Size, f.Path)
			}
		case expanded:
			fmt.Println()
			for _, e := range idx.Entries {
				if !e.Readable {
					fmt.Printf("%s %s %s: %s\n", paint(failStyle, "unreadable"), e.ID, e.Path, e.Error)
					continue
				}
				fmt.Printf("%s %s  %q  type=%s layout=%s %s\n", paint(okStyle, "ok"), e.ID, e.Name, e.TypeKey, e.Layout, humanize.IBytes(uint64(e.Size)))
			}
		default:
			fmt.Println()
			for _, e := range idx.Entries {
				fmt.Printf("%s  %s\n", e.ID, e.Name)
			}
		}
		return nil
	},
}

var manifestCmd = &cobra.Command{
	Use:   "manifest ARCHIVE",
	Short: "Print the manifest of an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := archive.Open(args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.ReadManifest()
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("%w: %s has no manifest", archive.ErrNotFound, args[0])
		}
		return printJSON(os.Stdout, m)
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff A B",
	Short: "Compare the snapshots of two archives",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := archive.Open(args[0])
		if err != nil {
			return err
		}
		defer a.Close()
		b, err := archive.Open(args[1])
		if err != nil {
			return err
		}
		defer b.Close()

		res, err := diff.Compare(cmd.Context(), a, b)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(os.Stdout, res)
		}
		if res.Empty() {
			fmt.Println("archives are identical")
			return nil
		}

		if len(res.OnlyA) > 0 {
			fmt.Println(heading("< " + args[0] + " only"))
			for _, id := range res.OnlyA {
				fmt.Printf("< %s\n", id)
			}
		}
		if len(res.OnlyB) > 0 {
			fmt.Println(heading("> " + args[1] + " only"))
			for _, id := range res.OnlyB {
				fmt.Printf("> %s\n", id)
			}
		}
		if len(res.Changed) > 0 {
			fmt.Println(heading("* Changed"))
			for _, c := range res.Changed {
				fmt.Printf("* %s\n    %s\n    %s\n", c.ID, paint(dimStyle, c.Old), c.New)
			}
		}
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract ARCHIVE ID OUT",
	Short: "Write one object as markdown, or its file blob as-is",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := archive.Open(args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		kind, err := inspect.Extract(a, args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("wrote %s (%s)\n", args[2], kind)
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect ARCHIVE",
	Short: "Browse an archive interactively",
	Long: `Browse an archive interactively.

Commands are read one per line from stdin; type "help" for the list.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxCache, _ := cmd.Flags().GetString("max-cache")
		if maxCache == "" {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			maxCache = cfg.Inspect.MaxCache
		}
		var budget int64
		if maxCache != "" {
			var err error
			if budget, err = inspect.ParseCacheSize(maxCache); err != nil {
				return err
			}
		}

		a, err := archive.Open(args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		in, err := inspect.NewInspector(a, inspect.Options{CacheBytes: budget, Heading: heading})
		if err != nil {
			return err
		}
		return in.Run(cmd.Context(), os.Stdin, os.Stdout)
	},
}

func init() {
	listCmd.Flags().Bool("brief", false, "Print only the summary")
	listCmd.Flags().Bool("expanded", false, "Parse every snapshot and report its state")
	listCmd.Flags().Bool("files", false, "List every file with its size")
	listCmd.MarkFlagsMutuallyExclusive("brief", "expanded", "files")

	inspectCmd.Flags().String("max-cache", "", "Preview cache budget, e.g. 64m or 1g (default: [inspect] max_cache or 200m)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(inspectCmd)
}
