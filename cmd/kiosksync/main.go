// kiosksync is the operational CLI for the kiosk backend: it runs the
// same member import and check-in export the background scheduler runs,
// plus schema init and the reset-exports escape hatch. Unlike the server
// loop, errors here terminate the process.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	v1 "github.com/klubbkiosk/kiosk-backend/v1"
	"github.com/klubbkiosk/kiosk-backend/v1/locks"
	"github.com/klubbkiosk/kiosk-backend/v1/services"
	"github.com/klubbkiosk/kiosk-backend/v1/utils"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := newRootCommand().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// newRootCommand creates the kiosksync CLI. A bare invocation runs the
// full sync (import then export), matching one background scheduler
// iteration.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kiosksync",
		Short: "Sync members and export check-ins to the spreadsheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncAll(cmd)
		},
	}

	cmd.AddCommand(newInitDBCommand())
	cmd.AddCommand(newImportMembersCommand())
	cmd.AddCommand(newExportCommand())
	cmd.AddCommand(newSyncAllCommand())
	cmd.AddCommand(newResetExportsCommand())

	return cmd
}

// openDB connects to the configured local store and brings its schema up
// to date.
func openDB() (*gorm.DB, error) {
	db, err := v1.ConnectGormDB(v1.NewDatabaseConfig())
	if err != nil {
		return nil, err
	}
	if err := v1.InitSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

func newExportService(db *gorm.DB, sheets services.SheetClient) *services.ExportService {
	lockDir := utils.GetEnvOrDefault("KIOSK_LOCK_DIR", ".")
	return services.NewExportService(db, sheets, locks.New(lockDir, locks.ExportLockName))
}

func newInitDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create or migrate the local database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := openDB(); err != nil {
				return err
			}
			fmt.Println("Database initialized.")
			return nil
		},
	}
}

func newImportMembersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import-members",
		Short: "Replace the local member mirror with the roster worksheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			members := services.NewMemberService(db, services.NewSheetServiceFromEnv())
			rows, err := members.ImportMembers(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d members.\n", rows)
			return nil
		},
	}
}

func newExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export-new-rows",
		Short: "Export pending check-ins to the log worksheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			exporter := newExportService(db, services.NewSheetServiceFromEnv())
			rows, err := exporter.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d new rows.\n", rows)
			return nil
		},
	}
}

func newSyncAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-all",
		Short: "Import members, then export pending check-ins (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncAll(cmd)
		},
	}
}

func runSyncAll(cmd *cobra.Command) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	sheets := services.NewSheetServiceFromEnv()

	members := services.NewMemberService(db, sheets)
	if _, err := members.ImportMembers(cmd.Context()); err != nil {
		// The export still runs: a stale mirror is no reason to hold
		// pending check-ins back.
		slog.Error("Member import failed", "error", err)
	}

	exporter := newExportService(db, sheets)
	rows, err := exporter.Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d new rows.\n", rows)
	return nil
}

func newResetExportsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-exports",
		Short: "Force every check-in back to pending for a full re-export",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			rows, err := services.NewCheckinService(db).ResetExports()
			if err != nil {
				return err
			}
			fmt.Printf("Reset %d rows to pending; the next export re-uploads them.\n", rows)
			return nil
		},
	}
}
