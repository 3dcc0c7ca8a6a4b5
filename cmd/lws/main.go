/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/utils/clock"

	"github.com/lws-dev/lws/pkg/operator"
	"github.com/lws-dev/lws/pkg/operator/options"
)

func main() {
	opts := options.New()
	root := &cobra.Command{
		Use:           "lws",
		Short:         "Local web services: an in-process emulator fleet for integration testing.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}
	opts.AddFlags(root.Flags())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options.Options) error {
	log, err := newLogger(opts.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	op, err := operator.New(log, clock.RealClock{}, opts)
	if err != nil {
		return fmt.Errorf("constructing fleet, %w", err)
	}
	if err := op.Start(ctx); err != nil {
		return fmt.Errorf("starting fleet, %w", err)
	}
	<-ctx.Done()
	log.Infow("shutdown signal received")
	return op.Stop(context.Background())
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q, %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger, %w", err)
	}
	return logger.Sugar(), nil
}
