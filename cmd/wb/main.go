package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"wb-go/internal/app"
	"wb-go/internal/config"
	"wb-go/internal/diff"
	"wb-go/internal/wb"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a WBApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "FilesAdd", "PublishDraft").
func newApp(operation string) (*app.WBApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewWBApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts for a passphrase without echoing it.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(data), nil
}

var rootCmd = &cobra.Command{
	Use:   "wb",
	Short: "Versioned workbench file store",
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

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
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
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Store:          %s\n", cfg.Store.Type)
		fmt.Printf("Strict Locking: %v\n", cfg.StrictLocking)
		return nil
	},
}

// create command
var createCmd = &cobra.Command{
	Use:   "create [NAME]",
	Short: "Create a workbench",
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")

		a, err := newApp("Create")
		if err != nil {
			return err
		}
		defer a.Close()

		name := ""
		if len(args) > 0 {
			name = args[0]
		}

		bench, err := a.Service().Create(name, model)
		if err != nil {
			return fmt.Errorf("creating workbench: %w", err)
		}

		fmt.Printf("Created workbench %s (%s)\n", bench.Name, bench.ID)
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workbenches",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("List")
		if err != nil {
			return err
		}
		defer a.Close()

		benches, err := a.Service().List()
		if err != nil {
			return err
		}

		if len(benches) == 0 {
			fmt.Println("No workbenches.")
			return nil
		}

		for _, b := range benches {
			forked := ""
			if b.ParentWorkbenchID != "" {
				forked = fmt.Sprintf("  (forked from %s)", b.ParentWorkbenchID)
			}
			fmt.Printf("%s  %s  updated:%s%s\n", b.ID, b.Name, b.UpdatedAt, forked)
		}
		return nil
	},
}

// delete command
var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a workbench",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Delete")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().Delete(args[0]); err != nil {
			return fmt.Errorf("deleting workbench: %w", err)
		}

		fmt.Printf("Deleted workbench %s\n", args[0])
		return nil
	},
}

// rename command
var renameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a workbench",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Rename")
		if err != nil {
			return err
		}
		defer a.Close()

		bench, err := a.Service().Rename(args[0], args[1])
		if err != nil {
			return fmt.Errorf("renaming workbench: %w", err)
		}

		fmt.Printf("Renamed workbench %s to %s\n", bench.ID, bench.Name)
		return nil
	},
}

// fork command
var forkCmd = &cobra.Command{
	Use:   "fork ID",
	Short: "Fork a workbench",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		name, _ := cmd.Flags().GetString("name")
		fromMessage, _ := cmd.Flags().GetString("from-message")

		a, err := newApp("Fork")
		if err != nil {
			return err
		}
		defer a.Close()

		bench, err := a.Service().Fork(args[0], mode, name, fromMessage)
		if err != nil {
			return fmt.Errorf("forking workbench: %w", err)
		}

		fmt.Printf("Forked %s into %s (%s)\n", args[0], bench.Name, bench.ID)
		return nil
	},
}

// files command
var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage workbench files",
}

var filesListCmd = &cobra.Command{
	Use:   "list ID",
	Short: "List tracked files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		draft, _ := cmd.Flags().GetBool("draft")

		a, err := newApp("FilesList")
		if err != nil {
			return err
		}
		defer a.Close()

		var entries []wb.FileEntry
		if draft {
			entries, err = a.Service().DraftFilesList(args[0])
		} else {
			entries, err = a.Service().FilesList(args[0])
		}
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No files.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%-10s %10d  %s\n", e.FileKind, e.Size, e.Path)
		}
		return nil
	},
}

var filesAddCmd = &cobra.Command{
	Use:   "add ID PATH...",
	Short: "Add files to a workbench",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("FilesAdd")
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Service().FilesAdd(args[0], args[1:])
		if err != nil {
			return fmt.Errorf("adding files: %w", err)
		}

		for _, r := range results {
			if r.Reason != "" {
				fmt.Printf("%-8s %s (%s)\n", r.Status, r.SourcePath, r.Reason)
			} else {
				fmt.Printf("%-8s %s\n", r.Status, r.FileName)
			}
		}
		return nil
	},
}

var filesRemoveCmd = &cobra.Command{
	Use:   "remove ID PATH...",
	Short: "Remove files from a workbench",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("FilesRemove")
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Service().FilesRemove(args[0], args[1:])
		if err != nil {
			return fmt.Errorf("removing files: %w", err)
		}

		for _, r := range results {
			if r.Reason != "" {
				fmt.Printf("%-8s %s (%s)\n", r.Status, r.Path, r.Reason)
			} else {
				fmt.Printf("%-8s %s\n", r.Status, r.Path)
			}
		}
		return nil
	},
}

var filesExtractCmd = &cobra.Command{
	Use:   "extract ID DEST [PATH...]",
	Short: "Copy workbench files out to a local directory",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("FilesExtract")
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Service().FilesExtract(args[0], args[1], args[2:])
		if err != nil {
			return fmt.Errorf("extracting files: %w", err)
		}

		for _, r := range results {
			switch {
			case r.FinalPath != "":
				fmt.Printf("%-8s %s -> %s\n", r.Status, r.Path, r.FinalPath)
			case r.Reason != "":
				fmt.Printf("%-8s %s (%s)\n", r.Status, r.Path, r.Reason)
			default:
				fmt.Printf("%-8s %s\n", r.Status, r.Path)
			}
		}
		return nil
	},
}

var filesQueryCmd = &cobra.Command{
	Use:   "query ID PATH SQL",
	Short: "Run a SQL query over a tracked CSV file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("FilesQuery")
		if err != nil {
			return err
		}
		defer a.Close()

		metaDir, dataDir, err := a.Service().TabularPaths(args[0])
		if err != nil {
			return err
		}

		result, err := a.Tabular().Query(metaDir, dataDir, args[1], args[2])
		if err != nil {
			return fmt.Errorf("querying %s: %w", args[1], err)
		}

		fmt.Println(strings.Join(result.Columns, "\t"))
		for _, row := range result.Rows {
			fmt.Println(strings.Join(row, "\t"))
		}
		return nil
	},
}

// draft command
var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Manage the draft workspace",
}

var draftCreateCmd = &cobra.Command{
	Use:   "create ID",
	Short: "Create a draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceKind, _ := cmd.Flags().GetString("source-kind")
		sourceRef, _ := cmd.Flags().GetString("source-ref")

		a, err := newApp("CreateDraft")
		if err != nil {
			return err
		}
		defer a.Close()

		state, err := a.Service().CreateDraftWithSource(args[0], sourceKind, sourceRef)
		if err != nil {
			return fmt.Errorf("creating draft: %w", err)
		}

		fmt.Printf("Draft %s\n", state.DraftID)
		return nil
	},
}

var draftWriteCmd = &cobra.Command{
	Use:   "write ID PATH",
	Short: "Write stdin to a draft file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ApplyDraftWrite")
		if err != nil {
			return err
		}
		defer a.Close()

		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}

		if err := a.Service().ApplyDraftWrite(args[0], args[1], string(content)); err != nil {
			return fmt.Errorf("writing draft file: %w", err)
		}

		fmt.Printf("Wrote %s\n", args[1])
		return nil
	},
}

var draftChangesCmd = &cobra.Command{
	Use:   "changes ID",
	Short: "Show files changed by the draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ChangeSet")
		if err != nil {
			return err
		}
		defer a.Close()

		changes, err := a.Service().ChangeSet(args[0])
		if err != nil {
			return fmt.Errorf("computing changes: %w", err)
		}

		if len(changes) == 0 {
			fmt.Println("No changes.")
			return nil
		}

		for _, c := range changes {
			truncated := ""
			if c.DiffTruncated {
				truncated = "  [diff truncated]"
			}
			fmt.Printf("%-10s %s%s\n", c.ChangeType, c.Path, truncated)
			if len(c.Lines) > 0 {
				fmt.Print(diff.Unified(c.Path, c.Lines))
			}
		}
		return nil
	},
}

var draftPublishCmd = &cobra.Command{
	Use:   "publish ID",
	Short: "Publish the draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("PublishDraft")
		if err != nil {
			return err
		}
		defer a.Close()

		at, err := a.Service().PublishDraft(args[0])
		if err != nil {
			return fmt.Errorf("publishing draft: %w", err)
		}

		fmt.Printf("Published at %s\n", at.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var draftDiscardCmd = &cobra.Command{
	Use:   "discard ID",
	Short: "Discard the draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DiscardDraft")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().DiscardDraft(args[0]); err != nil {
			return fmt.Errorf("discarding draft: %w", err)
		}

		fmt.Println("Draft discarded.")
		return nil
	},
}

// checkpoint command
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Manage checkpoints",
}

var checkpointListCmd = &cobra.Command{
	Use:   "list ID",
	Short: "List checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("CheckpointsList")
		if err != nil {
			return err
		}
		defer a.Close()

		checkpoints, err := a.Service().CheckpointsList(args[0])
		if err != nil {
			return err
		}

		if len(checkpoints) == 0 {
			fmt.Println("No checkpoints.")
			return nil
		}

		for _, cp := range checkpoints {
			desc := cp.Description
			if desc == "" {
				desc = "-"
			}
			fmt.Printf("%s  %s  %-12s  files:%d  %s\n",
				cp.CheckpointID, cp.CreatedAt, cp.Reason, cp.Stats.Files, desc)
		}
		return nil
	},
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create ID",
	Short: "Create a manual checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		a, err := newApp("CheckpointCreate")
		if err != nil {
			return err
		}
		defer a.Close()

		checkpointID, err := a.Service().CheckpointCreate(args[0], wb.ReasonManual, description)
		if err != nil {
			return fmt.Errorf("creating checkpoint: %w", err)
		}

		fmt.Printf("Checkpoint %s\n", checkpointID)
		return nil
	},
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore ID CHECKPOINT",
	Short: "Restore a checkpoint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		filesOnly, _ := cmd.Flags().GetBool("files-only")

		a, err := newApp("RestoreCheckpoint")
		if err != nil {
			return err
		}
		defer a.Close()

		if filesOnly {
			if err := a.Service().RestoreCheckpointPublished(args[0], args[1]); err != nil {
				return fmt.Errorf("restoring checkpoint: %w", err)
			}
			fmt.Printf("Restored files from checkpoint %s\n", args[1])
			return nil
		}

		// Capture the current state first so the restore itself is undoable.
		preRestoreID, err := a.Service().CheckpointCreate(args[0], wb.ReasonPreRestore, "")
		if err != nil {
			return fmt.Errorf("creating pre-restore checkpoint: %w", err)
		}

		if err := a.Service().RestoreCheckpoint(args[0], args[1], preRestoreID); err != nil {
			return fmt.Errorf("restoring checkpoint: %w", err)
		}

		fmt.Printf("Restored checkpoint %s (pre-restore state saved as %s)\n", args[1], preRestoreID)
		return nil
	},
}

// consent command
var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Manage egress consent",
}

var consentShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show consent status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ReadConsent")
		if err != nil {
			return err
		}
		defer a.Close()

		consent, err := a.Service().ReadConsent(args[0])
		if err != nil {
			return err
		}

		if consent.Workshop.ScopeHash == "" {
			fmt.Println("No consent recorded.")
			return nil
		}

		valid, err := a.Service().ConsentValid(args[0])
		if err != nil {
			return err
		}

		status := "stale (file set changed since consent)"
		if valid {
			status = "valid"
		}
		fmt.Printf("Provider:   %s\n", consent.Workshop.ProviderID)
		fmt.Printf("Model:      %s\n", consent.Workshop.ModelID)
		fmt.Printf("Granted:    %s\n", consent.Workshop.ConsentedAt)
		fmt.Printf("Persisted:  %v\n", consent.Workshop.Persisted)
		fmt.Printf("Status:     %s\n", status)
		return nil
	},
}

var consentGrantCmd = &cobra.Command{
	Use:   "grant ID",
	Short: "Grant egress consent for the current file set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")
		persist, _ := cmd.Flags().GetBool("persist")

		a, err := newApp("WriteConsent")
		if err != nil {
			return err
		}
		defer a.Close()

		hash, err := a.Service().ComputeScopeHash(args[0])
		if err != nil {
			return fmt.Errorf("computing scope hash: %w", err)
		}

		consent, err := a.Service().ReadConsent(args[0])
		if err != nil {
			return err
		}
		consent.Workshop = wb.WorkshopConsent{
			ProviderID:  provider,
			ModelID:     model,
			ScopeHash:   hash,
			ConsentedAt: time.Now().UTC().Format(time.RFC3339),
			Persisted:   persist,
		}

		if err := a.Service().WriteConsent(args[0], consent); err != nil {
			return fmt.Errorf("writing consent: %w", err)
		}

		fmt.Printf("Consent granted for %s/%s\n", provider, model)
		return nil
	},
}

// secrets command
var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage provider API keys",
}

var secretsSetCmd = &cobra.Command{
	Use:   "set PROVIDER",
	Short: "Store an API key for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SecretsSet")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		apiKey, err := readPassphrase("API key: ")
		if err != nil {
			return err
		}

		if err := a.Secrets().Set(passphrase, args[0], apiKey); err != nil {
			return fmt.Errorf("storing secret: %w", err)
		}

		fmt.Printf("Stored key for %s\n", args[0])
		return nil
	},
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers with stored keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SecretsList")
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.Secrets().Exists() {
			fmt.Println("No secrets stored.")
			return nil
		}

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		providers, err := a.Secrets().List(passphrase)
		if err != nil {
			return fmt.Errorf("listing secrets: %w", err)
		}

		for _, p := range providers {
			fmt.Println(p)
		}
		return nil
	},
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete PROVIDER",
	Short: "Delete a stored API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SecretsDelete")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		if err := a.Secrets().Delete(passphrase, args[0]); err != nil {
			return fmt.Errorf("deleting secret: %w", err)
		}

		fmt.Printf("Deleted key for %s\n", args[0])
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// files subcommands
	filesCmd.AddCommand(filesListCmd)
	filesListCmd.Flags().Bool("draft", false, "List the draft workspace instead of the published set")
	filesCmd.AddCommand(filesAddCmd)
	filesCmd.AddCommand(filesRemoveCmd)
	filesCmd.AddCommand(filesExtractCmd)
	filesCmd.AddCommand(filesQueryCmd)

	// draft subcommands
	draftCmd.AddCommand(draftCreateCmd)
	draftCreateCmd.Flags().String("source-kind", "", "What initiated the draft (e.g. job, user)")
	draftCreateCmd.Flags().String("source-ref", "", "Identifier of the initiating source")
	draftCmd.AddCommand(draftWriteCmd)
	draftCmd.AddCommand(draftChangesCmd)
	draftCmd.AddCommand(draftPublishCmd)
	draftCmd.AddCommand(draftDiscardCmd)

	// checkpoint subcommands
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCreateCmd.Flags().StringP("description", "d", "", "Checkpoint description")
	checkpointCmd.AddCommand(checkpointRestoreCmd)
	checkpointRestoreCmd.Flags().Bool("files-only", false, "Restore published files only, leaving metadata untouched")

	// consent subcommands
	consentCmd.AddCommand(consentShowCmd)
	consentCmd.AddCommand(consentGrantCmd)
	consentGrantCmd.Flags().String("provider", "", "Provider ID")
	consentGrantCmd.Flags().String("model", "", "Model ID")
	consentGrantCmd.Flags().Bool("persist", false, "Remember consent across sessions")
	consentGrantCmd.MarkFlagRequired("provider")
	consentGrantCmd.MarkFlagRequired("model")

	// secrets subcommands
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsListCmd)
	secretsCmd.AddCommand(secretsDeleteCmd)

	// fork flags
	forkCmd.Flags().String("mode", wb.ForkModeCloneAll, "Fork mode: clone_all, clone_files_and_context_no_chat, or clone_files_only")
	forkCmd.Flags().String("name", "", "Name for the fork (defaults to the source name)")
	forkCmd.Flags().String("from-message", "", "Conversation message the fork branches from")

	// create flags
	createCmd.Flags().String("model", "", "Default model ID")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(forkCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(consentCmd)
	rootCmd.AddCommand(secretsCmd)
}
