package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/drive"
	"github.com/ginjaninja78/loyalty-kpi/internal/store"
	"github.com/spf13/cobra"
)

var uploadToDrive bool

// exportCmd writes the history as parquet snapshots, optionally uploading
// them to the configured Drive folder.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write parquet snapshots of the history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		startTime := time.Now()
		log := appLog.WithField("command", "export")

		fmt.Println("=== Loyalty KPI - Export ===")

		handle, _, err := openStore(ctx, log, false)
		if err != nil {
			return err
		}
		defer handle.Close()

		snapshot, err := store.WriteSnapshot(ctx, handle, mainConfig.OutputDir)
		if err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		for _, path := range snapshot.Paths() {
			fmt.Printf("  ✓ %s\n", path)
		}

		if uploadToDrive {
			dc := mainConfig.Drive
			uploader, err := drive.NewUploader(ctx, dc.FolderID, dc.CredentialsFile, dc.CredentialsJSON)
			if err != nil {
				return err
			}
			uploads, err := uploader.UploadAll(ctx, snapshot.Paths())
			for _, up := range uploads {
				verb := "created"
				if up.Updated {
					verb = "updated"
				}
				fmt.Printf("  ✓ drive: %s %s (%s)\n", filepath.Base(up.Path), verb, up.FileID)
			}
			if err != nil {
				return err
			}
		}

		printStatus("Export Complete", startTime,
			fmt.Sprintf("Rows:            %d", snapshot.Rows),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().BoolVar(&uploadToDrive, "drive", false, "Upload the snapshots to drive.folder_id")
}
