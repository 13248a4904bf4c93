package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/johnlen7/teacher-sarah/internal/model"
	"github.com/johnlen7/teacher-sarah/internal/pipeline"
	"github.com/johnlen7/teacher-sarah/internal/queue"
	"github.com/johnlen7/teacher-sarah/internal/recall"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat <conversation-key>",
		Short: "Interactive tutoring session on the local pipeline",
		Long: "Reads lines from stdin and runs them through the full message pipeline.\n" +
			"Plain lines are text messages; '/voice <seconds> <text>' simulates a voice\n" +
			"message; '/status' prints a queue snapshot. Ctrl-D drains and exits.",
		Args: cobra.ExactArgs(1),
		Run:  runChat,
	}
	cmd.Flags().String("name", "", "First name to record on the conversation profile")
	RootCmd.AddCommand(cmd)
}

// stdoutReplier is the gateway reply primitive for local sessions.
type stdoutReplier struct{}

func (stdoutReplier) Reply(ctx context.Context, key, text string) error {
	fmt.Printf("sarah> %s\n", text)
	return nil
}

func (stdoutReplier) ReplyVoice(ctx context.Context, key, audioRef string) error {
	fmt.Printf("sarah [voice]> %s\n", audioRef)
	return nil
}

// echoTranscriber stands in for a real speech-to-text backend: the
// simulated clip's reference already is its transcript.
type echoTranscriber struct{}

func (echoTranscriber) Transcribe(ctx context.Context, audioRef string, duration float64) (string, error) {
	return audioRef, nil
}

func runChat(cmd *cobra.Command, args []string) {
	key := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		exitErr("load config", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		exitErr("build logger", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	topics, _ := cfg.Topics()
	assembler := recall.New(st, topics, cfg.RecentWindow)
	handler, err := pipeline.NewHandler(pipeline.Config{
		Store:           st,
		Assembler:       assembler,
		Responder:       pipeline.NewFallbackChain(log),
		Replier:         stdoutReplier{},
		Transcriber:     echoTranscriber{},
		SessionGap:      cfg.SessionGap,
		UpstreamTimeout: cfg.UpstreamTimeout,
		Logger:          log,
	})
	if err != nil {
		exitErr("build pipeline", err)
	}

	q := queue.New(cfg.MaxConcurrent, handler, log)
	sup := queue.NewSupervisor(q, log)

	identity := model.Identity{}
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		identity.FirstName = name
	}

	fmt.Printf("Chatting as %s. '/voice <seconds> <text>' simulates voice, '/status' shows the queue, Ctrl-D exits.\n", key)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/status" {
			b, _ := json.MarshalIndent(sup.Status(), "", "  ")
			fmt.Println(string(b))
			continue
		}

		payload := queue.JobPayload{Kind: queue.KindText, Content: line, Identity: identity}
		priority := 1
		if rest, ok := strings.CutPrefix(line, "/voice "); ok {
			fields := strings.SplitN(strings.TrimSpace(rest), " ", 2)
			if len(fields) != 2 {
				fmt.Println("usage: /voice <seconds> <text>")
				continue
			}
			secs, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				fmt.Println("usage: /voice <seconds> <text>")
				continue
			}
			payload = queue.JobPayload{
				Kind:          queue.KindVoice,
				Content:       fields[1],
				VoiceDuration: secs,
				Identity:      identity,
			}
			priority = 2
		}

		if _, err := q.Enqueue(cmd.Context(), key, payload, priority); err != nil {
			exitErr("enqueue", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := sup.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
}
