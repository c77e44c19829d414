// Command stream-tail follows the transaction event stream and prints each
// event as a JSON line. It is a development aid for watching the outbox relay.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
	"github.com/josh-kwaku/customer-ledger/internal/events"
	"github.com/josh-kwaku/customer-ledger/internal/logging"
)

type tailConfig struct {
	RedisURL    string `env:"REDIS_URL,required,notEmpty"`
	EventStream string `env:"EVENT_STREAM" envDefault:"bank.transactions"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
}

type tailLine struct {
	StreamID  string                  `json:"stream_id"`
	EventID   string                  `json:"event_id"`
	EventType string                  `json:"event_type"`
	Event     domain.TransactionEvent `json:"event"`
}

type streamReader interface {
	Read(ctx context.Context, lastID string, count int64, block time.Duration) ([]events.Message, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		from   string
		follow bool
	)

	cmd := &cobra.Command{
		Use:          "stream-tail",
		Short:        "Print transaction events from the event stream",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := env.ParseAs[tailConfig]()
			if err != nil {
				return fmt.Errorf("stream-tail: config: %w", err)
			}
			logger := logging.Init("stream-tail", cfg.LogLevel, cfg.AppEnv)

			ctx := cmd.Context()
			client, err := events.NewRedisClient(ctx, cfg.RedisURL, 30*time.Second)
			if err != nil {
				return err
			}
			defer client.Close()

			logger.Info("tailing stream", "stream", cfg.EventStream, "from", from, "follow", follow)
			return tail(ctx, events.NewStreamReader(client, cfg.EventStream), from, follow, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&from, "from", "0", `stream id to start after; "$" for new events only`)
	cmd.Flags().BoolVarP(&follow, "follow", "f", true, "keep waiting for new events")
	return cmd
}

// tail prints events after lastID until the context ends or, without follow,
// until the stream is exhausted.
func tail(ctx context.Context, r streamReader, lastID string, follow bool, out io.Writer) error {
	block := time.Duration(-1)
	if follow {
		block = 5 * time.Second
	}

	enc := json.NewEncoder(out)
	for {
		messages, err := r.Read(ctx, lastID, 100, block)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			slog.Error("stream read failed", "error", err)
			return err
		}

		for _, m := range messages {
			if err := enc.Encode(tailLine{
				StreamID:  m.StreamID,
				EventID:   m.EventID,
				EventType: string(m.EventType),
				Event:     m.Event,
			}); err != nil {
				return err
			}
			lastID = m.StreamID
		}

		if len(messages) == 0 && !follow {
			return nil
		}
	}
}
