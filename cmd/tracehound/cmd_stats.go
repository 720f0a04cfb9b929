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

	"github.com/spf13/cobra"

	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/store"
	"github.com/tracehound/tracehound/services/diagnosis/triage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st store.Store, _ triage.Config) error {
			stats, err := st.GetStats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("signatures:  %d\n", stats.Total)
			fmt.Printf("occurrences: %d\n", stats.TotalOccurrences)
			fmt.Printf("spend (USD): %.2f\n", stats.EstimatedSpendUSD)
			for _, status := range models.AllStatuses() {
				if n, ok := stats.ByStatus[status]; ok {
					fmt.Printf("  %-14s %d\n", status, n)
				}
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
