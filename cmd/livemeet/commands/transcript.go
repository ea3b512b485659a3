package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"livemeet/internal/domain"
	"livemeet/internal/store/sqlite"
)

var (
	transcriptSessionID string
	transcriptJSON      bool
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Print the stored transcript of a session",
	Long: `Print the final transcript lines and assistant replies stored for a session.

Examples:
  livemeet transcript --session 3f1c...
  livemeet transcript --session 3f1c... --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(transcriptSessionID) == "" {
			return errors.New("--session is required")
		}
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		store, err := sqlite.Open(cfg.Storage.Path, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		session, err := store.Session(ctx, transcriptSessionID)
		if err != nil {
			return err
		}
		lines, err := store.Transcript(ctx, session.ID)
		if err != nil {
			return err
		}
		replies, err := store.AIMessages(ctx, session.ID)
		if err != nil {
			return err
		}

		if transcriptJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"session":    session,
				"transcript": lines,
				"replies":    replies,
			})
		}
		printTranscript(cmd.OutOrStdout(), session, lines, replies)
		return nil
	},
}

func init() {
	transcriptCmd.Flags().StringVarP(&transcriptSessionID, "session", "s", "", "session id")
	transcriptCmd.Flags().BoolVar(&transcriptJSON, "json", false, "output as JSON")
}

type transcriptEntry struct {
	at   time.Time
	text string
}

// printTranscript interleaves transcript lines and replies by time.
func printTranscript(w io.Writer, session domain.Session, lines []domain.TranscriptEvent, replies []domain.AIResponseRecord) {
	fmt.Fprintf(w, "Meeting %s, session %s (%s)\n", session.MeetingID, session.ID, session.Status)

	entries := make([]transcriptEntry, 0, len(lines)+len(replies))
	for _, line := range lines {
		entries = append(entries, transcriptEntry{at: line.Timestamp, text: speakerLine(line)})
	}
	for _, reply := range replies {
		entries = append(entries, transcriptEntry{at: reply.CreatedAt, text: "AI: " + reply.Content})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	for _, e := range entries {
		fmt.Fprintf(w, "[%s] %s\n", e.at.Format("15:04:05"), e.text)
	}
}
