package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"wellbeing-agent/internal/normalize"
	"wellbeing-agent/internal/orchestrator"
	"wellbeing-agent/internal/speech"
	"wellbeing-agent/internal/sqlitestore"
	"wellbeing-agent/internal/usecase"
)

func (c *cli) respondCmd() *cobra.Command {
	var trace bool
	cmd := &cobra.Command{
		Use:   "respond <message>",
		Short: "Generate one reply with no history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := c.engine(cmd)
			if err != nil {
				return err
			}
			reply, err := eng.Orchestrator.Respond(cmd.Context(), strings.Join(args, " "), nil)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, reply.Text)
			if trace {
				printReplyDetails(cmd, reply)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "print model, crisis and validation details")
	return cmd
}

func printReplyDetails(cmd *cobra.Command, reply orchestrator.Reply) {
	out := cmd.OutOrStdout()
	states := make([]string, 0, len(reply.Trace))
	for _, s := range reply.Trace {
		states = append(states, string(s))
	}
	fmt.Fprintf(out, "\nmodel:       %s\n", reply.Model)
	fmt.Fprintf(out, "states:      %s\n", strings.Join(states, " -> "))
	fmt.Fprintf(out, "crisis:      %t", reply.CrisisTriggered)
	if reply.CrisisTriggered {
		fmt.Fprintf(out, " (severity %s, fallback %t)", reply.Crisis.Severity, reply.Fallback)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "valid:       %t %v\n", reply.Validation.Valid, reply.Validation.Strings())
	fmt.Fprintf(out, "substituted: %t\n", reply.Substituted)
}

func (c *cli) chatCmd() *cobra.Command {
	var dbPath, conversationID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Hold an interactive conversation stored in SQLite",
		Long: `Reads one message per line from stdin until EOF or "/quit". History is
kept in the SQLite file so a conversation can be resumed with --conversation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if dbPath == "" {
				dbPath = c.cfg.DatabasePath
			}
			store, err := sqlitestore.Open(ctx, dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			eng, err := c.engine(cmd)
			if err != nil {
				return err
			}
			svc, err := usecase.NewChatService(eng.Orchestrator, store, c.cfg.HistoryLimit, c.cfg.MaxMessageLength, c.logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "you> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/quit" {
					break
				}
				res, err := svc.Chat(ctx, usecase.ChatInput{Message: line, ConversationID: conversationID})
				if err != nil && usecase.CodeOf(err) != usecase.ErrorUnavailable {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				conversationID = res.ConversationID
				fmt.Fprintf(out, "assistant> %s\n", res.Reply)
			}
			if err := scanner.Err(); err != nil {
				return err
			}
			fmt.Fprintln(out)

			if conversationID == "" {
				return nil
			}
			meta, err := store.GetConversationMeta(ctx, conversationID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "conversation %s: %d turns, %d crisis turns\n", meta.ConversationID, meta.Turns, meta.CrisisTurns)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite file (defaults to STATE_DB or wellbeing.db)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "resume an existing conversation id")
	return cmd
}

func (c *cli) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe the configured models and print the one that gets pinned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := c.engine(cmd)
			if err != nil {
				return err
			}
			model, err := eng.Selector.Pin(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), model)
			return nil
		},
	}
}

func (c *cli) normalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <text>",
		Short: "Print text as the speech synthesizer would receive it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), normalize.Normalize(strings.Join(args, " ")))
			return nil
		},
	}
}

func (c *cli) speakCmd() *cobra.Command {
	var outPath, voice string
	var speed float64
	cmd := &cobra.Command{
		Use:   "speak <text>",
		Short: "Synthesize text to a WAV file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			speaker, err := speech.NewSpeaker(speech.PlaceholderSynthesizer{}, nil, speech.DefaultSynthesisTimeout)
			if err != nil {
				return err
			}
			audio, err := speaker.Speak(cmd.Context(), strings.Join(args, " "), speech.VoiceParams{Voice: voice, Speed: speed})
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, audio.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d Hz, %s)\n", outPath, audio.Format, audio.SampleRate, audio.Duration)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "speech.wav", "output file")
	cmd.Flags().StringVar(&voice, "voice", "", "voice name")
	cmd.Flags().Float64Var(&speed, "speed", 1, "speaking rate")
	return cmd
}
