package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"time"

	"cfgedit/internal/app"
	"cfgedit/internal/cfgedit"
	"cfgedit/internal/config"
	"cfgedit/internal/diff"
	"cfgedit/internal/encryption"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an EditorApp. The caller must defer app.Close().
func newApp(cmd *cobra.Command) (*app.EditorApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	opts := app.Options{
		Passphrase: func() (string, error) { return readPassphrase("Draft key passphrase: ") },
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		opts.Console = os.Stderr
	}

	a, err := app.NewEditorApp(cmd.Context(), cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase reads from CFGEDIT_PASSPHRASE or, failing that, the terminal.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("CFGEDIT_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal: set CFGEDIT_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readInput reads a file argument; "-" is stdin.
func readInput(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(b), nil
}

func printIssues(report cfgedit.IssueReport) {
	for _, issue := range report.Issues {
		fmt.Printf("  %s\n", issue)
	}
}

var rootCmd = &cobra.Command{
	Use:          "cfgedit",
	Short:        "Edit shared configuration documents safely",
	SilenceUsage: true,
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

		identity, _ := cmd.Flags().GetString("identity")
		if identity == "" {
			u, err := user.Current()
			if err != nil {
				return fmt.Errorf("no --identity given and current user unknown: %w", err)
			}
			identity = u.Username
		}

		cfg := config.NewConfig(identity, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Identity: %s\n", identity)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
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

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Identity:   %s\n", cfg.Identity)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Documents:  %s\n", cfg.Documents.Type)
		fmt.Printf("Locks:      %s\n", cfg.Locks.Type)
		fmt.Printf("Drafts:     %s (encrypted: %t)\n", cfg.Drafts.Type, cfg.Drafts.Encrypted)
		fmt.Printf("Rules Dir:  %s\n", cfg.Validation.RulesDir)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the draft encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("key pair already exists at %s", cfg.Encryption.PublicKeyPath)
		}

		p1, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv("CFGEDIT_PASSPHRASE") == "" {
			p2, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if p1 != p2 {
				return errors.New("passphrases do not match")
			}
		}

		if err := enc.Setup(p1); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Key pair written to %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Println("Set encrypted = true under [drafts] to encrypt drafts at rest.")
		return nil
	},
}

// edit command
var editCmd = &cobra.Command{
	Use:   "edit DOCUMENT",
	Short: "Edit a document in $EDITOR",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ruleSet, _ := cmd.Flags().GetString("ruleset")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		op := a.NewEditOperation(args[0], ruleSet,
			app.ExternalEditor(app.EditorCommand()),
			app.NewLinePrompter(os.Stdin, os.Stdout),
			os.Stdout)
		return op.Run(cmd.Context())
	},
}

// diff command
var diffCmd = &cobra.Command{
	Use:   "diff DOCUMENT FILE",
	Short: "Compare a local file with the published document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		contextLines, _ := cmd.Flags().GetInt("context")

		text, err := readInput(args[1])
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Diff(cmd.Context(), args[0], text)
		if err != nil {
			return err
		}
		summary := diff.Summarize(entries)
		if summary.Empty() {
			fmt.Println("No differences.")
			return nil
		}
		if err := diff.Write(os.Stdout, entries, contextLines); err != nil {
			return err
		}
		fmt.Printf("%d line(s) added, %d removed\n", summary.Added, summary.Removed)
		return nil
	},
}

// validate command
var validateCmd = &cobra.Command{
	Use:   "validate DOCUMENT FILE",
	Short: "Check a local file as DOCUMENT would be checked",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ruleSet, _ := cmd.Flags().GetString("ruleset")

		text, err := readInput(args[1])
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Validate(cmd.Context(), args[0], text, ruleSet)
		if err != nil {
			return err
		}
		printIssues(report)
		fmt.Printf("%d error(s), %d warning(s): %s\n", report.Errors, report.Warnings, report.Gate)
		if report.Gate == cfgedit.GateBlock {
			return errors.New("document does not parse")
		}
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import DOCUMENT FILE",
	Short: "Publish a local file as a new document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ruleSet, _ := cmd.Flags().GetString("ruleset")
		force, _ := cmd.Flags().GetBool("force")

		text, err := readInput(args[1])
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		stamp, report, err := a.Import(cmd.Context(), args[0], text, ruleSet, force)
		printIssues(report)
		if err != nil {
			if errors.Is(err, cfgedit.ErrUnacknowledged) {
				return fmt.Errorf("%w (use --force to import anyway)", err)
			}
			return err
		}
		fmt.Printf("Imported %s at %s\n", args[0], stamp)
		return nil
	},
}

// lock command
var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect edit locks",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status DOCUMENT",
	Short: "Show who holds the edit lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		l, err := a.LockStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if l == nil {
			fmt.Println("Not locked.")
			return nil
		}
		fmt.Printf("Locked by %s since %s, expires %s\n",
			l.Holder,
			l.AcquiredAt.Local().Format(time.DateTime),
			l.ExpiresAt.Local().Format(time.DateTime),
		)
		return nil
	},
}

var lockBreakCmd = &cobra.Command{
	Use:   "break DOCUMENT",
	Short: "Revoke the edit lock (privileged identities only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BreakLock(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Lock on %s broken\n", args[0])
		return nil
	},
}

// draft command
var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Manage unsaved drafts",
}

var draftListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your unsaved drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		drafts, err := a.ListDrafts(cmd.Context())
		if err != nil {
			return err
		}
		if len(drafts) == 0 {
			fmt.Println("No drafts.")
			return nil
		}
		for _, d := range drafts {
			fmt.Printf("%s  %s  based on %s\n",
				d.LastEditedAt.Local().Format(time.DateTime),
				d.DocumentID,
				d.BasedOnVersionStamp,
			)
		}
		return nil
	},
}

var draftDiscardCmd = &cobra.Command{
	Use:   "discard DOCUMENT",
	Short: "Delete your draft of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DiscardDraft(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Draft of %s discarded\n", args[0])
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history DOCUMENT",
	Short: "View published revisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		revs, err := a.History(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if len(revs) == 0 {
			fmt.Println("No history.")
			return nil
		}
		for _, r := range revs {
			fmt.Printf("%s  %s  %-12s  %s\n",
				r.Hash[:12],
				r.When.Local().Format(time.DateTime),
				r.Author,
				r.Message,
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Echo warnings from the log to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("identity", "", "Editor identity (defaults to the current user)")
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)

	// lock subcommands
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockBreakCmd)

	// draft subcommands
	draftCmd.AddCommand(draftListCmd)
	draftCmd.AddCommand(draftDiscardCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().StringP("ruleset", "r", "", "Rule set to validate against (defaults to the configured one)")
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().IntP("context", "C", 3, "Unchanged lines to show around changes; -1 shows all")
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringP("ruleset", "r", "", "Rule set to validate against (defaults to the configured one)")
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringP("ruleset", "r", "", "Rule set to validate against (defaults to the configured one)")
	importCmd.Flags().BoolP("force", "f", false, "Import despite schema issues")
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of revisions to show")
}
