package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"autosumm/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
				fmt.Fprintln(out, "Notification not sent: notifications.ntfy_topic is not configured")
				return nil
			}
			if err := notifications.NewService(cfg).Publish(cmd.Context(), notifications.EventTest, nil); err != nil {
				return err
			}
			fmt.Fprintln(out, "Test notification sent")
			return nil
		},
	}
}
