package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/rescuer/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to rescue events for a wallet, or all wallets.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to rescue events for a compromised wallet",
		ArgsUsage: "[wallet_address]",
		Description: `Subscribe to finished rescues published to NATS JetStream.

Events are published to the subject: rescues.{compromised_wallet}
Without a wallet address every rescue is streamed.

Example:
  rescuer nats subscribe DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "rescuer-cli",
			},
			&cli.BoolFlag{
				Name:  "replay",
				Usage: "Deliver every retained event, not only new ones",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				subject = natspkg.Subject(c.Args().First())
			}
			return streamRescues(c, subject)
		},
	}
}

// streamRescues connects to NATS and prints rescue events until interrupted.
func streamRescues(c *cli.Context, subject string) error {
	natsURL := c.String("nats-url")
	human := !c.Bool("json") && c.String("jq") == ""

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if human {
		fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(os.Stderr, "   NATS: %s\n", natsURL)
		if c.Bool("durable") {
			fmt.Fprintf(os.Stderr, "   Consumer: %s (durable)\n", c.String("consumer-name"))
		}
		fmt.Fprintf(os.Stderr, "\nWaiting for rescues... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if c.Bool("replay") {
		consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
	}
	if c.Bool("durable") {
		consumerConfig.Durable = c.String("consumer-name")
		consumerConfig.Name = c.String("consumer-name")
	}

	cons, err := js.CreateOrUpdateConsumer(c.Context, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.RescueEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			count++

			if err := render(c, event, func(w io.Writer) {
				fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
				fmt.Fprintf(w, "Rescue #%d\n", count)
				fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
				fmt.Fprintf(w, "Signature:    %s\n", event.Signature)
				fmt.Fprintf(w, "Network:      %s\n", event.Network)
				fmt.Fprintf(w, "Kind:         %s\n", event.Kind)
				fmt.Fprintf(w, "Status:       %s\n", event.Status)
				fmt.Fprintf(w, "Compromised:  %s\n", event.CompromisedWallet)
				fmt.Fprintf(w, "Safe:         %s\n", event.SafeWallet)
				fmt.Fprintf(w, "Attempts:     %d\n", event.Attempts)
				if event.Error != nil {
					fmt.Fprintf(w, "Error:        %s\n", *event.Error)
				}
				fmt.Fprintf(w, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))
			}); err != nil {
				return err
			}
			msg.Ack()

		case <-sigChan:
			if human {
				fmt.Fprintf(os.Stderr, "\n✅ Received %d rescues\n", count)
			}
			return nil
		case <-c.Context.Done():
			return nil
		}
	}
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the RESCUES JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()
			stream, err := js.Stream(ctx, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			return render(c, info, func(w io.Writer) {
				fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
				fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
				fmt.Fprintf(w, "Description:  %s\n", info.Config.Description)
				fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
				fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
				fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
				fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
				fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
				fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
				fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
				fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			})
		},
	}
}
