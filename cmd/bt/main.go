package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"bt/internal/app"
	"bt/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and builds a wired App. The caller must Close.
func newApp(ctx context.Context, operation string, mutating bool) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, err
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, operation, mutating)
}

// withApp runs fn against a wired App, journaling failure and closing.
func withApp(cmd *cobra.Command, operation string, mutating bool, fn func(a *app.App) error) error {
	a, err := newApp(cmd.Context(), operation, mutating)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(a); err != nil {
		a.SetError()
		return err
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:           "bt",
	Short:         "Personal multi-host backup tool",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default configuration and host ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return err
		}

		hostID := uuid.New().String()
		cfg := config.New(hostID, defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return err
		}

		fmt.Printf("Configuration written to %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID:  %s\n", hostID)
		fmt.Printf("Base dir: %s\n", defaults.BaseDir)
		fmt.Println("Add at least one [[vault]] block before running bt init.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return err
		}
		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return err
		}

		fmt.Printf("# %s\n", defaults.ConfigPath)
		return config.Write(os.Stdout, cfg)
	},
}

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage vaults",
}

var vaultInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Validate and initialize every configured vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "ValidateVaults", false, func(a *app.App) error {
			if err := a.ValidateVaults(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("All vaults validated.")
			return nil
		})
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Track the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
		return withApp(cmd, "AddDirectory", true, func(a *app.App) error {
			if err := a.AddDirectory(cwd); err != nil {
				return err
			}
			fmt.Printf("Tracking %s\n", cwd)
			return nil
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add [PATH]",
	Short: "Stage a file or directory for backup",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		return withApp(cmd, "StageFiles", true, func(a *app.App) error {
			count, err := a.StageFiles(target)
			if count > 0 {
				fmt.Printf("Staged %d file(s)\n", count)
			}
			return err
		})
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Commit staged files to the vaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "BackupAll", true, func(a *app.App) error {
			count, err := a.BackupAll(cmd.Context())
			if count > 0 || err == nil {
				fmt.Printf("Backed up %d file(s)\n", count)
			}
			return err
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print per-file backup status for the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		showDeleted, _ := cmd.Flags().GetBool("deleted")

		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}

		return withApp(cmd, "GetStatus", true, func(a *app.App) error {
			statuses, err := a.GetStatus(cwd, showDeleted)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No files found.")
				return nil
			}
			for _, st := range statuses {
				fmt.Printf("%-10s %s\n", st.State, st.RelativePath)
			}
			return nil
		})
	},
}

var logCmd = &cobra.Command{
	Use:   "log FILE",
	Short: "Print a file's snapshot history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "GetFileHistory", false, func(a *app.App) error {
			entries, err := a.GetFileHistory(args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No backup history.")
				return nil
			}
			for _, e := range entries {
				marker := ""
				if e.IsCurrent {
					marker = "  [current]"
				}
				fmt.Printf("%s  %s  %8s  mtime:%s%s\n",
					e.Digest[:12],
					e.BackedUpAt.Format("2006-01-02 15:04:05"),
					humanize.Bytes(uint64(e.Size)),
					e.ModifiedAt.Format("2006-01-02 15:04:05"),
					marker,
				)
			}
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Restore a version of a file next to the original",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		digest, _ := cmd.Flags().GetString("digest")

		return withApp(cmd, "Restore", false, func(a *app.App) error {
			outPath, err := a.Restore(cmd.Context(), args[0], digest)
			if err != nil {
				return err
			}
			fmt.Printf("Restored to %s\n", outPath)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recent bt operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(cmd, "GetHistory", false, func(a *app.App) error {
			ops, err := a.GetHistory(limit)
			if err != nil {
				return err
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
				fmt.Printf("#%-4d %-15s %s  %-7s %s\n",
					op.ID, op.Operation,
					op.StartedAt.Format("2006-01-02 15:04:05"),
					op.Status, duration)
			}
			return nil
		})
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configListCmd)
	vaultCmd.AddCommand(vaultInitCmd)

	statusCmd.Flags().Bool("deleted", false, "Also list files deleted from disk")
	restoreCmd.Flags().String("digest", "", "Restore the version with this content digest")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	rootCmd.AddCommand(configCmd, vaultCmd, initCmd, addCmd, backupCmd,
		statusCmd, logCmd, restoreCmd, historyCmd)
}
