package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/strataos/strata/internal/eventbus"
	"github.com/strataos/strata/internal/ui"
)

var (
	tailURL      string
	tailCategory string
	tailHistory  int
	tailJSON     bool
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow events mirrored onto JetStream",
	Long: `Connects to the daemon's NATS server and prints mirrored events as they
arrive. With --history N the last N stored events are replayed first.

Output is styled on a terminal and line-delimited JSON when piped or with
--json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runTail(ctx)
	},
}

func init() {
	tailCmd.Flags().StringVar(&tailURL, "url", "", "NATS server URL (default nats://127.0.0.1:4222, env STRATA_NATS_URL)")
	tailCmd.Flags().StringVar(&tailCategory, "category", "", "only events of this category")
	tailCmd.Flags().IntVar(&tailHistory, "history", 0, "replay the last N stored events before following")
	tailCmd.Flags().BoolVar(&tailJSON, "json", false, "line-delimited JSON output")
	rootCmd.AddCommand(tailCmd)
}

func runTail(ctx context.Context) error {
	url := tailURL
	if url == "" {
		url = viper.GetString("nats-url")
	}
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name("strata-tail"),
		nats.MaxReconnects(-1),
	}
	if token := viper.GetString("daemon-token"); token != "" {
		opts = append(opts, nats.Token(token))
	}

	// The daemon may still be starting; retry the initial connect with
	// exponential backoff.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	nc, err := backoff.RetryWithData(func() (*nats.Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		return nats.Connect(url, opts...)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", url, err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream: %w", err)
	}

	subject := eventbus.SubjectLayerPrefix + ">"
	if tailCategory != "" {
		subject = eventbus.SubjectForCategory(eventbus.Category(tailCategory))
	}

	styled := !tailJSON && term.IsTerminal(int(os.Stdout.Fd())) && ui.ColorEnabled()

	lines := make(chan *nats.Msg, 256)
	subOpts := []nats.SubOpt{nats.DeliverNew()}
	if tailHistory > 0 {
		subOpts = []nats.SubOpt{nats.DeliverLastPerSubject()}
		// Replay from the tail of the stream instead of per subject when
		// the server supports start sequences.
		if info, err := js.StreamInfo(eventbus.StreamLayerEvents); err == nil {
			start := uint64(1)
			if info.State.LastSeq > uint64(tailHistory) {
				start = info.State.LastSeq - uint64(tailHistory) + 1
			}
			subOpts = []nats.SubOpt{nats.StartSequence(start)}
		}
	}

	sub, err := js.ChanSubscribe(subject, lines, subOpts...)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-lines:
			printEvent(msg.Data, styled)
		}
	}
}

func printEvent(data []byte, styled bool) {
	var e eventbus.Event
	if err := json.Unmarshal(data, &e); err != nil {
		fmt.Fprintf(os.Stderr, "skipping malformed event: %v\n", err)
		return
	}
	if styled {
		fmt.Println(ui.RenderEvent(e))
		return
	}
	out, _ := json.Marshal(e)
	fmt.Println(string(out))
}
