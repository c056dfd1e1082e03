package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"familyhub/internal/client/api"
	"familyhub/internal/client/connection"
	"familyhub/internal/client/presence"
	"familyhub/internal/client/reconcile"
	"familyhub/internal/client/session"
	"familyhub/internal/client/transport"
	"familyhub/internal/logging"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Follow a chat room in the terminal",
	Long: `Sign in, connect to the broadcast gateway and follow one chat room.
Lines typed on stdin are sent as messages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		apiURL, _ := cmd.Flags().GetString("api")
		email, _ := cmd.Flags().GetString("email")
		roomID, _ := cmd.Flags().GetUint64("room")
		history, _ := cmd.Flags().GetInt("history")
		level, _ := cmd.Flags().GetString("log-level")

		password := os.Getenv("FAMILYHUB_PASSWORD")
		if password == "" {
			return errors.New("FAMILYHUB_PASSWORD must be set")
		}
		log := logging.New(logging.Config{Level: level, Output: os.Stderr})

		ctx, stop := signalContext()
		defer stop()

		client := api.New(apiURL, api.WithLogger(log))
		sess, err := client.Login(ctx, email, password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		gw, err := client.RealtimeConfig(ctx)
		if err != nil {
			return err
		}

		mgr := connection.New(connection.Options{
			Dialer:      transport.NewDialer(gw, log),
			Authorizer:  client.Authorizer(sess),
			Credentials: sess,
			Logger:      log,
		})
		room, err := session.New(session.Options{
			RoomID:       roomID,
			UserID:       sess.UserID,
			UserName:     sess.Name,
			Conn:         mgr,
			API:          client.Rooms(sess),
			HistoryLimit: history,
			Logger:       log,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "signed in as %s, following %s\n", sess.Name, room.Topic())

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return ignoreCanceled(mgr.Run(gctx)) })
		g.Go(func() error {
			if err := mgr.Connect(gctx); err != nil {
				return ignoreCanceled(err)
			}
			return room.Run(gctx)
		})
		g.Go(func() error { return watchStatus(gctx, mgr, out) })
		g.Go(func() error { return render(gctx, room, out) })
		go readInput(gctx, room, cmd.InOrStdin(), out)

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	listenCmd.Flags().String("api", "http://127.0.0.1:8008", "Base URL of the familyhub API")
	listenCmd.Flags().String("email", "", "Account email (password from FAMILYHUB_PASSWORD)")
	listenCmd.Flags().Uint64("room", 0, "Chat room id")
	listenCmd.Flags().Int("history", 20, "Number of earlier messages to load")
	listenCmd.Flags().String("log-level", "warn", "Log level")
	listenCmd.MarkFlagRequired("email")
	listenCmd.MarkFlagRequired("room")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func watchStatus(ctx context.Context, mgr *connection.Manager, out io.Writer) error {
	updates, stop := mgr.Watch()
	defer stop()
	var last connection.Status
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-updates:
			if s.State == last.State && s.Degraded == last.Degraded {
				continue
			}
			last = s
			switch {
			case s.Degraded:
				fmt.Fprintf(out, "! connection degraded after %d attempts, still retrying\n", s.Attempt)
			case s.State == connection.Reconnecting:
				fmt.Fprintf(out, "! reconnecting (attempt %d)\n", s.Attempt)
			default:
				fmt.Fprintf(out, "* %s\n", s.State)
			}
		}
	}
}

// render prints messages once they are confirmed or failed and the typing
// line whenever it changes.
func render(ctx context.Context, room *session.Room, out io.Writer) error {
	printed := map[string]bool{}
	lastTyping := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-room.Changes():
		}

		msgs, err := room.Messages(ctx)
		if err != nil {
			return ignoreStopped(err)
		}
		for _, m := range msgs {
			key := m.ID.String()
			if m.Failed {
				key = "failed:" + m.ClientRef
			}
			if m.Sending || printed[key] {
				continue
			}
			printed[key] = true
			fmt.Fprintln(out, formatMessage(m))
		}

		typers, err := room.Typers(ctx)
		if err != nil {
			return ignoreStopped(err)
		}
		if line := typingLine(typers); line != lastTyping {
			lastTyping = line
			if line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}
}

func ignoreStopped(err error) error {
	if errors.Is(err, session.ErrStopped) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func formatMessage(m reconcile.Entity) string {
	switch {
	case m.Failed:
		return fmt.Sprintf("[not sent] %s (%v)", m.Body, m.SendErr)
	case m.Deleted:
		return fmt.Sprintf("[%s] %s: (deleted)", m.CreatedAt.Local().Format("15:04"), m.SenderName)
	default:
		return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04"), m.SenderName, m.Body)
	}
}

func typingLine(typers []presence.Signal) string {
	names := lo.Map(typers, func(s presence.Signal, _ int) string { return s.Name })
	switch len(names) {
	case 0:
		return ""
	case 1:
		return "… " + names[0] + " is typing"
	default:
		return "… " + strings.Join(names, ", ") + " are typing"
	}
}

func readInput(ctx context.Context, room *session.Room, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := room.Send(ctx, line); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			if errors.Is(err, session.ErrStopped) || ctx.Err() != nil {
				return
			}
		}
	}
}
