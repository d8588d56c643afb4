package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/rxmq/heartbeat"
	"github.com/vinayprograms/rxmq/shutdown"
	"github.com/vinayprograms/rxmq/stream"
)

type publishOptions struct {
	address  string
	topic    string
	repeat   int
	interval time.Duration
	complete bool
	fail     string
	ping     time.Duration
}

func newPublishCommand() *cobra.Command {
	var opts publishOptions

	cmd := &cobra.Command{
		Use:   "publish [body...]",
		Short: "Publish messages to a stream",
		Long: `Publish one message per argument. With no arguments, each line read
from stdin becomes a message. After the last message the stream is
completed unless --complete=false, or failed when --fail is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			ctx = a.coord.HandleSignals(ctx)

			var bodies <-chan string
			if len(args) > 0 {
				bodies = fromArgs(args, opts.repeat)
			} else {
				bodies = fromReader(ctx, os.Stdin)
			}
			runErr := runPublish(ctx, a, opts, bodies, cmd.OutOrStdout())
			a.coord.Trigger()
			<-a.coord.Done()
			return errors.Join(runErr, a.coord.Result().Err)
		},
	}

	cmd.Flags().StringVar(&opts.address, "address", "", "Address to bind, e.g. tcp://127.0.0.1:5555 (required)")
	cmd.Flags().StringVar(&opts.topic, "topic", "", "Topic (default: rxmq.cli.message)")
	cmd.Flags().IntVar(&opts.repeat, "repeat", 1, "Send each argument this many times")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Delay between messages")
	cmd.Flags().BoolVar(&opts.complete, "complete", true, "Complete the stream after the last message")
	cmd.Flags().StringVar(&opts.fail, "fail", "", "Fail the stream with this message instead of completing it")
	cmd.Flags().DurationVar(&opts.ping, "ping-interval", 0, "Send keepalive probes at this interval (0 = off)")
	if err := cmd.MarkFlagRequired("address"); err != nil {
		panic(fmt.Sprintf("Failed to mark address as required: %v", err))
	}

	return cmd
}

func fromArgs(args []string, repeat int) <-chan string {
	out := make(chan string, len(args))
	go func() {
		defer close(out)
		for i := 0; i < repeat; i++ {
			for _, a := range args {
				out <- a
			}
		}
	}()
	return out
}

func fromReader(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// runPublish binds a publisher, sends every body and then terminates the
// stream as opts asks.
func runPublish(ctx context.Context, a *app, opts publishOptions, bodies <-chan string, out io.Writer) error {
	pub, err := stream.NewPublisher[Message](a.reg, stream.Endpoint{Address: opts.address, Topic: opts.topic},
		a.streamOptions(stream.WithContext(ctx), stream.WithMode(stream.EagerPublisher))...)
	if err != nil {
		return err
	}
	a.coord.RegisterCloser("publisher", shutdown.PhaseStreams, pub)

	if opts.ping > 0 {
		hb, err := heartbeat.NewSender(pub, heartbeat.Config{Interval: opts.ping, Logger: a.log})
		if err != nil {
			return err
		}
		if err := hb.Start(ctx); err != nil {
			return err
		}
		defer hb.Close()
	}

	var seq int64
	for body := range bodies {
		if ctx.Err() != nil {
			return nil
		}
		seq++
		if err := pub.PushNext(Message{Seq: seq, Body: body, Sent: time.Now().UTC()}); err != nil {
			return err
		}
		if opts.interval > 0 {
			select {
			case <-time.After(opts.interval):
			case <-ctx.Done():
				return nil
			}
		}
	}

	switch {
	case opts.fail != "":
		err = pub.PushError(errors.New(opts.fail))
	case opts.complete:
		err = pub.PushCompleted()
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "published %d message(s) to %s\n", seq, pub.Endpoint())
	return nil
}
