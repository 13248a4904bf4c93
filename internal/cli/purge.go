package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "purge <conversation-key>",
		Short: "Delete old messages, keeping at least the newest N",
		Args:  cobra.ExactArgs(1),
		Run:   runPurge,
	}
	cmd.Flags().Duration("age", 30*24*time.Hour, "Delete messages older than this")
	cmd.Flags().Int("keep", 100, "Always keep at least this many newest messages")
	RootCmd.AddCommand(cmd)
}

func runPurge(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		exitErr("load config", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	age, _ := cmd.Flags().GetDuration("age")
	keep, _ := cmd.Flags().GetInt("keep")

	removed, err := s.PurgeOlderThan(cmd.Context(), args[0], age, keep)
	if err != nil {
		exitErr("purge", err)
	}
	fmt.Printf("removed %d messages\n", removed)
}
