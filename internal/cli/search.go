package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search <conversation-key> <query>",
		Short: "Search a conversation's message log",
		Args:  cobra.ExactArgs(2),
		Run:   runSearch,
	}
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
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
	msgs, err := s.Search(cmd.Context(), args[0], args[1], limit)
	if err != nil {
		exitErr("search", err)
	}

	b, _ := json.MarshalIndent(msgs, "", "  ")
	fmt.Println(string(b))
}
