package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/otpd/internal/bus"
)

// natsURL is the NATS server carrying the otpd event bus
var natsURL string

func init() {
	watchCmd.Flags().StringVar(&natsURL, "nats", nats.DefaultURL, "NATS server URL")
}

// watchCmd streams delivery events from the bus
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream delivery events from the otpd event bus",
	Long: `Subscribe to the otpd event bus and print delivery debug events and
record list changes as they happen. Useful for diagnosing why a code did
not arrive at the delivery endpoint.

Examples:
  # Watch events on the local NATS server
  otpctl watch

  # Watch a remote bus
  otpctl watch --nats nats://nats.internal:4222`,
	RunE: runWatch,
}

// runWatch handles the watch command
func runWatch(cmd *cobra.Command, args []string) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}
	defer nc.Close()

	events, err := bus.New(nc, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}

	listSub, err := events.SubscribeListChanged(func() {
		fmt.Printf("%s  records changed\n", time.Now().Format(time.TimeOnly))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer listSub.Unsubscribe()

	debugSub, err := events.SubscribeDeliveryDebug(func(ev bus.DeliveryDebug) {
		fmt.Printf("%s  delivery %s\n", time.Now().Format(time.TimeOnly), formatDebug(ev))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer debugSub.Unsubscribe()

	fmt.Fprintf(os.Stderr, "Watching otpd events on %s (Ctrl-C to stop)\n", natsURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}

// formatDebug renders one delivery debug event for the terminal.
func formatDebug(ev bus.DeliveryDebug) string {
	switch ev.ResponseCode {
	case bus.CodeInFlight:
		return fmt.Sprintf("attempt started: %s", ev.Payload)
	case bus.CodeTransportError:
		return fmt.Sprintf("transport error: %s", ev.ResponseBody)
	case bus.CodeConfigError:
		return fmt.Sprintf("configuration error: %s", ev.ResponseBody)
	default:
		return fmt.Sprintf("response %d: %s", ev.ResponseCode, ev.ResponseBody)
	}
}
