// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/stagehand/internal/config"
)

// RunOptions configures daemon execution.
type RunOptions struct {
	Version string

	// ConfigPath is the config file to load. Empty means the default
	// location.
	ConfigPath string

	// Addr overrides api.addr.
	Addr string
}

// Run loads configuration, starts the daemon and blocks until ctx is
// cancelled or SIGINT/SIGTERM is received.
func Run(ctx context.Context, opts RunOptions) error {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.Load(opts.ConfigPath)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := New(ctx, cfg, Options{
		Version: opts.Version,
		Addr:    opts.Addr,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Run(ctx); err != nil {
		slog.Error("daemon exited with error", slog.Any("error", err))
		return err
	}
	return nil
}
