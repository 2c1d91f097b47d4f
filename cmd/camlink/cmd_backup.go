package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/HerbHall/camlink/internal/backup"
	"github.com/HerbHall/camlink/internal/store"
)

func newBackupCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the database and config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if output == "" {
				output = backup.DefaultName(time.Now())
			}
			db, err := store.New(s.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := backup.Backup(cmd.Context(), db.DB(), cfgFile, output); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: camlink-backup-{timestamp}.tar.gz)")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var (
		input string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the database from a backup archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if err := backup.Restore(cmd.Context(), input, s.Database.Path, force); err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restore complete: %s\n", s.Database.Path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "backup archive to restore")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
