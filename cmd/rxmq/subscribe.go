package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	mqerrors "github.com/vinayprograms/rxmq/errors"
	"github.com/vinayprograms/rxmq/shutdown"
	"github.com/vinayprograms/rxmq/stream"
)

type subscribeOptions struct {
	address string
	topic   string
	limit   int
	timeout time.Duration

	// subscribed, when set, is called once the observer is registered.
	subscribed func()
}

func newSubscribeCommand() *cobra.Command {
	var opts subscribeOptions

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Print messages from a stream as JSON lines",
		Long: `Subscribe to a stream and print each message as one JSON line.
Exits when the stream completes or fails, after --limit messages, after
--timeout, or on SIGINT/SIGTERM.`,
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

			runErr := runSubscribe(ctx, a, opts, cmd.OutOrStdout())
			a.coord.Trigger()
			<-a.coord.Done()
			return errors.Join(runErr, a.coord.Result().Err)
		},
	}

	cmd.Flags().StringVar(&opts.address, "address", "", "Address to connect to, e.g. tcp://127.0.0.1:5555 (required)")
	cmd.Flags().StringVar(&opts.topic, "topic", "", "Topic (default: rxmq.cli.message)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Exit after this many messages (0 = no limit)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Exit after this long (0 = wait forever)")
	if err := cmd.MarkFlagRequired("address"); err != nil {
		panic(fmt.Sprintf("Failed to mark address as required: %v", err))
	}

	return cmd
}

// runSubscribe prints messages until the stream ends, the limit is reached
// or ctx is done. A remote error is returned; reaching the limit or the
// timeout is not an error.
func runSubscribe(ctx context.Context, a *app, opts subscribeOptions, out io.Writer) error {
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	sub, err := stream.NewSubscriber[Message](a.reg, stream.Endpoint{Address: opts.address, Topic: opts.topic},
		a.streamOptions(stream.WithContext(ctx))...)
	if err != nil {
		return err
	}
	a.coord.RegisterCloser("subscriber", shutdown.PhaseStreams, sub)

	var (
		mu       sync.Mutex
		count    int
		finalErr error
	)
	enc := json.NewEncoder(out)
	finished := make(chan struct{})
	var finishOnce sync.Once
	finish := func(err error) {
		finishOnce.Do(func() {
			finalErr = err
			close(finished)
		})
	}

	_, err = sub.Subscribe(stream.Observer[Message]{
		OnNext: func(m Message) {
			mu.Lock()
			defer mu.Unlock()
			if opts.limit > 0 && count >= opts.limit {
				return
			}
			if err := enc.Encode(m); err != nil {
				finish(err)
				return
			}
			count++
			if opts.limit > 0 && count >= opts.limit {
				finish(nil)
			}
		},
		OnError: func(err error) {
			if mqerrors.Is(err, mqerrors.ErrCodeClosed) && ctx.Err() != nil {
				finish(nil)
				return
			}
			finish(err)
		},
		OnCompleted: func() { finish(nil) },
	})
	if err != nil {
		return err
	}
	a.log.Info("subscribed", map[string]interface{}{"endpoint": sub.Endpoint().String()})
	if opts.subscribed != nil {
		opts.subscribed()
	}

	select {
	case <-finished:
		return finalErr
	case <-ctx.Done():
		return nil
	}
}
