package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/frahmantamala/facilities-console/internal/alert"
	"github.com/frahmantamala/facilities-console/internal/badge"
	"github.com/frahmantamala/facilities-console/internal/core/events"
	"github.com/frahmantamala/facilities-console/internal/realtime"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Push channel debugging commands",
	Long:  `Watch the push channel or preview how a pushed frame is presented`,
}

var tailEventCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print push channel events as they arrive",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		if !rt.manager.IsAuthenticated() {
			return fmt.Errorf("not signed in, run `facilities login` first")
		}

		out := cmd.OutOrStdout()
		rt.bus.Subscribe(events.EventTypeNotificationReceived, func(_ context.Context, event events.Event) error {
			n := event.(*events.NotificationReceivedEvent).Notification
			fmt.Fprintf(out, "%s %s %s key=%s %s\n",
				n.ReceivedAt.Format("15:04:05"),
				badge.DefaultTheme.Render(badge.Priority(string(n.Priority))),
				n.Type,
				n.Key(),
				n.Message)
			return nil
		})
		rt.bus.Subscribe(events.EventTypeConnectionChanged, func(_ context.Context, event events.Event) error {
			evt := event.(*events.ConnectionChangedEvent)
			rt.logger.Info("push channel state", "connected", evt.Connected, "attempt", evt.Attempt)
			return nil
		})

		channel := newRealtimeClient(rt)
		s := rt.manager.Current()
		if err := channel.Start(ctx, s.UserID(), s.Role()); err != nil {
			return err
		}
		defer channel.Stop()

		rt.logger.Info("tailing push channel. Press Ctrl+C to stop.")
		<-ctx.Done()
		return nil
	},
}

var previewEventCmd = &cobra.Command{
	Use:   "preview FRAME",
	Short: "Render a raw push frame the way the console would",
	Long:  `Decode a JSON push frame and run it through the alert pipeline with the terminal presenter`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := realtime.DecodeNotification([]byte(args[0]))
		if err != nil {
			return err
		}

		pipeline := alert.NewPipeline(alert.Config{
			Presenter: alert.NewTerminalPresenter(cmd.OutOrStdout(), badge.DefaultTheme),
		})
		defer pipeline.Reset()

		pipeline.Handle(n)
		if !n.IsCritical() && !n.IsCancellation() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s notification %s would not be shown\n", n.Priority, n.ID)
		}
		return nil
	},
}

func newRealtimeClient(rt *runtime) *realtime.Client {
	return realtime.NewClient(realtime.Config{
		URL:             rt.config.API.WSURL,
		MaxRetries:      rt.config.Realtime.MaxRetries,
		InitialInterval: rt.config.Realtime.InitialInterval,
		MaxInterval:     rt.config.Realtime.MaxInterval,
		Logger:          rt.logger,
	}, rt.bus)
}

func init() {
	eventCmd.AddCommand(tailEventCmd)
	eventCmd.AddCommand(previewEventCmd)
}
