package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"anyback-go/internal/app"
	"anyback-go/internal/config"
	"anyback-go/internal/generator"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an AnybackApp. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "backup", "restore").
func newApp(cmd *cobra.Command, operation string, opts app.Options) (*app.AnybackApp, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}

	opts.Version = version
	opts.Verbose, _ = cmd.Flags().GetBool("verbose")
	a, err := app.NewAnybackApp(cmd.Context(), cfg, operation, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

var rootCmd = &cobra.Command{
	Use:          "anyback",
	Short:        "Back up and restore spaces of a local-first document store",
	SilenceUsage: true,
	Version:      version,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if enc, _ := cmd.Flags().GetString("encryption"); enc != "" {
			cfg.Encryption.Type = enc
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])

		if cfg.Encryption.Type == "none" {
			return nil
		}
		passphrase, err := newPassphrase()
		if err != nil {
			return err
		}
		if _, err := app.SetupEncryption(cfg, passphrase); err != nil {
			return err
		}
		fmt.Printf("Encryption keys written to %s\n", cfg.Encryption.PublicKeyPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := app.LoadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		fmt.Printf("Space:      %s\n", cfg.Space.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:      %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View backup, restore and publish history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		export, _ := cmd.Flags().GetString("export")

		a, err := newApp(cmd, "history", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if export != "" {
			if err := a.ExportHistory(export); err != nil {
				return err
			}
			fmt.Printf("History database written to %s\n", export)
			return nil
		}

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(os.Stdout, ops)
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %s  %-8s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Summary,
			)
		}
		return nil
	},
}

// space command
var spaceCmd = &cobra.Command{
	Use:   "space",
	Short: "Manage spaces of the local store",
}

var spaceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an empty space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "space-create", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		sp, err := a.CreateSpace(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(os.Stdout, sp)
		}
		fmt.Printf("Created space %s (%s)\n", sp.Name, sp.ID)
		return nil
	},
}

var spaceListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List spaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "space-list", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		spaces, err := a.ListSpaces(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(os.Stdout, spaces)
		}
		if len(spaces) == 0 {
			fmt.Println("No spaces.")
			return nil
		}
		for _, sp := range spaces {
			fmt.Printf("%s  %s\n", sp.ID, sp.Name)
		}
		return nil
	},
}

var spaceRemoveCmd = &cobra.Command{
	Use:   "rm SPACE",
	Short: "Delete a space and its objects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "space-remove", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteSpace(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted space %s\n", args[0])
		return nil
	},
}

var spaceSeedCmd = &cobra.Command{
	Use:   "seed SPACE",
	Short: "Fill a space with generated objects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, _ := cmd.Flags().GetString("profile")
		rawSeed, _ := cmd.Flags().GetString("seed")
		seed, err := strconv.ParseUint(rawSeed, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid --seed %q: %w", rawSeed, err)
		}

		a, err := newApp(cmd, "space-seed", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.SeedSpace(cmd.Context(), args[0], profile, seed)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(os.Stdout, res)
		}
		fmt.Printf("Seeded %d objects (%s of bodies) in %d iteration(s)\n",
			len(res.Created), humanize.IBytes(uint64(res.BodyBytes)), res.Iterations)
		if res.Truncated {
			fmt.Println("Stopped early: the profile's time budget ran out.")
		}
		return nil
	},
}

// publish command
var publishCmd = &cobra.Command{
	Use:   "publish ARCHIVE",
	Short: "Copy an archive and its manifest into a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		a, err := newApp(cmd, "publish", app.Options{WithVault: true, Vault: vaultName})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Publish(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(os.Stdout, res)
		}
		for _, key := range res.Keys {
			fmt.Printf("published %s\n", key)
		}
		enc := ""
		if res.Encrypted {
			enc = ", encrypted"
		}
		fmt.Printf("%s to vault %s%s\n", humanize.IBytes(uint64(res.Bytes)), res.Vault, enc)
		return nil
	},
}

// fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch KEY DEST",
	Short: "Download a published archive from a vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		a, err := newApp(cmd, "fetch", app.Options{WithVault: true, Vault: vaultName})
		if err != nil {
			return err
		}
		defer a.Close()

		ask := func() (string, error) { return readPassphrase("Passphrase: ") }
		if err := a.Fetch(cmd.Context(), args[0], args[1], ask); err != nil {
			return err
		}
		fmt.Printf("Fetched %s to %s\n", args[0], args[1])
		return nil
	},
}

// vaults command
var vaultsCmd = &cobra.Command{
	Use:   "vaults",
	Short: "Inspect publish vaults",
}

var vaultsListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List published archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		a, err := newApp(cmd, "vaults-list", app.Options{WithVault: true, Vault: vaultName})
		if err != nil {
			return err
		}
		defer a.Close()

		objs, err := a.ListPublished(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(os.Stdout, objs)
		}
		fmt.Println(heading("vault " + a.VaultName()))
		if len(objs) == 0 {
			fmt.Println("Nothing published.")
			return nil
		}
		for _, o := range objs {
			fmt.Printf("%10s  %s  %s\n", humanize.IBytes(uint64(o.Size)), o.Modified.Format("2006-01-02 15:04"), o.Key)
		}
		return nil
	},
}

var vaultsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that a vault is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		a, err := newApp(cmd, "vaults-check", app.Options{WithVault: true, Vault: vaultName})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ValidateVault(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("vault %s ok\n", a.VaultName())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "Print machine readable JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Copy info logs to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("encryption", "", "Encryption for published archives: age or none")

	// space subcommands
	spaceCmd.AddCommand(spaceCreateCmd)
	spaceCmd.AddCommand(spaceListCmd)
	spaceCmd.AddCommand(spaceRemoveCmd)
	spaceCmd.AddCommand(spaceSeedCmd)
	spaceSeedCmd.Flags().String("profile", "small", fmt.Sprintf("Generator profile %v", generator.ProfileNames()))
	spaceSeedCmd.Flags().String("seed", fmt.Sprintf("%#x", generator.DefaultSeed), "Generator seed")

	// vault commands
	for _, c := range []*cobra.Command{publishCmd, fetchCmd, vaultsListCmd, vaultsCheckCmd} {
		c.Flags().String("vault", "", "Vault name (default: first configured vault)")
	}
	vaultsCmd.AddCommand(vaultsListCmd)
	vaultsCmd.AddCommand(vaultsCheckCmd)

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	historyCmd.Flags().String("export", "", "Write a copy of the history database to this path")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(spaceCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(vaultsCmd)
}
