package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johnlen7/teacher-sarah/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats <conversation-key>",
		Short: "Show a conversation's statistics and cached summary",
		Args:  cobra.ExactArgs(1),
		Run:   runStats,
	}
	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		exitErr("load config", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Statistics(cmd.Context(), args[0])
	if err != nil {
		exitErr("stats", err)
	}

	out := struct {
		Stats   *model.Stats   `json:"stats"`
		Summary *model.Summary `json:"summary,omitempty"`
	}{Stats: stats}
	if sum, err := s.Summary(cmd.Context(), args[0]); err == nil {
		out.Summary = sum
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
