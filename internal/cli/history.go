package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history <conversation-key>",
		Short: "Show a conversation's recent messages",
		Args:  cobra.ExactArgs(1),
		Run:   runHistory,
	}
	cmd.Flags().IntP("limit", "l", 10, "Max messages")
	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		exitErr("load config", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	msgs, err := s.RecentMessages(cmd.Context(), args[0], limit)
	if err != nil {
		exitErr("history", err)
	}

	b, _ := json.MarshalIndent(msgs, "", "  ")
	fmt.Println(string(b))
}
