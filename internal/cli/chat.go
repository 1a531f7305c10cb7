package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/menubot/internal/daemon"
	"github.com/harun/menubot/pkg/engine"
)

var (
	chatPhone  string
	chatStream bool
)

var chatCmd = &cobra.Command{
	Use:   "chat --phone PHONE MESSAGE",
	Short: "Send one message as a customer and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

var historyCmd = &cobra.Command{
	Use:   "history --phone PHONE",
	Short: "Print a customer's conversation",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var clearCmd = &cobra.Command{
	Use:   "clear --phone PHONE",
	Short: "Delete a customer's conversation",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	chatCmd.Flags().StringVar(&chatPhone, "phone", "", "customer phone number")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "print the reply as it is generated")
	_ = chatCmd.MarkFlagRequired("phone")
	historyCmd.Flags().StringVar(&chatPhone, "phone", "", "customer phone number")
	_ = historyCmd.MarkFlagRequired("phone")
	clearCmd.Flags().StringVar(&chatPhone, "phone", "", "customer phone number")
	_ = clearCmd.MarkFlagRequired("phone")

	rootCmd.AddCommand(chatCmd, historyCmd, clearCmd)
}

func normalizePhone(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), "+")
}

func customerSession(ctx context.Context, d *daemon.Daemon, phone string) (string, error) {
	phone = normalizePhone(phone)
	if _, err := d.Directory().EnsureCustomer(ctx, phone); err != nil {
		return "", err
	}
	return d.Directory().ResolveSession(ctx, phone)
}

func runChat(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		sessionID, err := customerSession(ctx, d, chatPhone)
		if err != nil {
			return err
		}
		req := engine.TurnRequest{
			SessionID: sessionID,
			SubjectID: normalizePhone(chatPhone),
			Message:   message,
		}
		out := cmd.OutOrStdout()

		if !chatStream {
			res, err := d.Engine().RunTurn(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res.Reply())
			return nil
		}

		events, err := d.Engine().StreamTurn(ctx, req)
		if err != nil {
			return err
		}
		for ev := range events {
			switch ev.Type {
			case engine.EventToken:
				fmt.Fprint(out, ev.Content)
			case engine.EventError:
				fmt.Fprintln(out)
				return ev.Err
			case engine.EventDone:
				fmt.Fprintln(out)
			}
		}
		return nil
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		sessionID, err := customerSession(ctx, d, chatPhone)
		if err != nil {
			return err
		}
		msgs, err := d.Engine().History(ctx, sessionID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(msgs) == 0 {
			fmt.Fprintln(out, "No messages.")
			return nil
		}
		for _, m := range msgs {
			fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
		}
		return nil
	})
}

func runClear(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		sessionID, err := customerSession(ctx, d, chatPhone)
		if err != nil {
			return err
		}
		if err := d.Engine().ClearHistory(ctx, sessionID); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
		return nil
	})
}
