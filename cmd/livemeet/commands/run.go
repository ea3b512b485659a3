package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"livemeet/internal/bootstrap"
	"livemeet/internal/domain"
	"livemeet/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

var (
	runMeetingID string
	runMode      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a live session for a meeting",
	Long: `Start a live session for a meeting and stream the transcript to the terminal.

While running, type a command and press enter:
  p  pause      r  resume      q  end the session

Examples:
  livemeet run --meeting weekly-sync
  livemeet run --meeting design-review --mode audio`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(runMeetingID) == "" {
			return errors.New("--meeting is required")
		}
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		console := newConsoleSink(cmd.OutOrStdout(), logger)
		services, err := bootstrap.Build(ctx, cfg, console, logger)
		if err != nil {
			return err
		}
		defer services.Close()

		return runSession(ctx, services.Controller, console, cmd.InOrStdin(), logger)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runMeetingID, "meeting", "m", "", "meeting id")
	runCmd.Flags().StringVar(&runMode, "mode", string(domain.AIModeText), "AI mode: text, audio or off")
}

func runSession(ctx context.Context, controller *usecase.SessionController, console *consoleSink, in io.Reader, logger *zap.Logger) error {
	session, err := controller.Start(ctx, runMeetingID, domain.ParseAIMode(runMode))
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return fmt.Errorf("meeting %s already has a live session (%s)", conflict.MeetingID, conflict.SessionID)
		}
		return err
	}
	logger.Info("session running", zap.String("session_id", session.ID), zap.String("meeting_id", session.MeetingID))

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := controller.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-console.Ended():
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := applyCommand(ctx, controller, session.ID, line); err != nil {
				console.Notice(err.Error())
			}
		}
	}
}

func applyCommand(ctx context.Context, controller *usecase.SessionController, sessionID string, line string) error {
	switch strings.ToLower(line) {
	case "":
		return nil
	case "p", "pause":
		return controller.Pause(ctx, sessionID)
	case "r", "resume":
		return controller.Resume(ctx, sessionID)
	case "q", "quit", "end":
		return controller.End(ctx, sessionID, domain.EndReasonUser)
	default:
		return fmt.Errorf("unknown command %q (p, r or q)", line)
	}
}
