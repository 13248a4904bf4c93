package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johnlen7/teacher-sarah/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "level <conversation-key> [A1|A2|B1|B2|C1|C2]",
		Short: "Show or set a conversation's English level",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runLevel,
	}
	RootCmd.AddCommand(cmd)
}

func runLevel(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		exitErr("load config", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	key := args[0]
	if len(args) == 1 {
		sum, err := s.Summary(cmd.Context(), key)
		if err != nil {
			exitErr("read level", err)
		}
		fmt.Println(sum.Level)
		return
	}

	level, err := model.ParseLevel(args[1])
	if err != nil {
		exitErr("parse level", err)
	}
	if err := s.SetLevel(cmd.Context(), key, level); err != nil {
		exitErr("set level", err)
	}
	fmt.Printf("level for %s set to %s\n", key, level)
}
