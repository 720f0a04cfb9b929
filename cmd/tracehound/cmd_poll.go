// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracehound/tracehound/services/diagnosis/poll"
)

var pollSinceFlag time.Duration

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one ingestion pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logWrapper := buildLogger(cfg, "cli", false)
		defer logWrapper.Close()
		logger := logWrapper.Slog()

		tr, err := buildTriage(cfg)
		if err != nil {
			return err
		}
		st, err := openStore(cfg, tr, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		tel, err := buildTelemetry(cfg, logger)
		if err != nil {
			return err
		}
		poller := poll.New(tel, st, poll.Config{
			Services:   cfg.Poll.Services,
			EventLimit: cfg.Poll.EventLimit,
		}, nil, logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()
		res, err := poller.PollWindow(ctx, time.Now().UTC().Add(-pollSinceFlag))
		if err != nil {
			return err
		}
		fmt.Printf("errors found: %d\nnew signatures: %d\nupdated: %d\nfailed events: %d\n",
			res.ErrorsFound, res.NewSignatures, res.UpdatedSignatures, res.FailedEvents)
		return nil
	},
}

func init() {
	pollCmd.Flags().DurationVar(&pollSinceFlag, "since", 15*time.Minute, "window to ingest")
	rootCmd.AddCommand(pollCmd)
}
