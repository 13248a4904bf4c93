package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export <conversation-key>",
		Short: "Export a conversation's profile, history and statistics",
		Args:  cobra.ExactArgs(1),
		Run:   runExport,
	}
	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		exitErr("load config", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	exp, err := s.ExportConversation(cmd.Context(), args[0])
	if err != nil {
		exitErr("export", err)
	}

	b, _ := json.MarshalIndent(exp, "", "  ")
	fmt.Println(string(b))
}
