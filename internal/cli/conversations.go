package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List known conversation keys",
		Run:   runConversations,
	}
	RootCmd.AddCommand(cmd)
}

func runConversations(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		exitErr("load config", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	keys, err := s.Conversations(cmd.Context())
	if err != nil {
		exitErr("list conversations", err)
	}

	b, _ := json.MarshalIndent(keys, "", "  ")
	fmt.Println(string(b))
}
