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
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracehound/tracehound/services/diagnosis/investigate"
	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/scheduler"
	"github.com/tracehound/tracehound/services/diagnosis/store"
	"github.com/tracehound/tracehound/services/diagnosis/triage"
)

var signaturesCmd = &cobra.Command{
	Use:   "signatures",
	Short: "Inspect and manage error signatures",
}

var listStatusFlag string

var signaturesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List signatures, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st store.Store, _ triage.Config) error {
			var status models.Status
			if listStatusFlag != "" {
				parsed, err := models.ParseStatus(listStatusFlag)
				if err != nil {
					return err
				}
				status = parsed
			}
			sigs, err := st.GetAll(ctx, status)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSERVICE\tERROR TYPE\tSTATUS\tCOUNT\tLAST SEEN")
			for _, sig := range sigs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					sig.ID(), sig.Service(), sig.ErrorType(), sig.Status(),
					sig.OccurrenceCount(), sig.LastSeen().Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

var signaturesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one signature in full, including its diagnosis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st store.Store, _ triage.Config) error {
			sig, err := st.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			printSignature(sig)
			return nil
		})
	},
}

var muteReasonFlag string

var signaturesMuteCmd = &cobra.Command{
	Use:   "mute <id>",
	Short: "Mute a diagnosed signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateSignature(args[0], func(sig *models.Signature) error {
			return sig.MarkMuted(muteReasonFlag)
		})
	},
}

var resolveNoteFlag string

var signaturesResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark a diagnosed signature resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateSignature(args[0], func(sig *models.Signature) error {
			return sig.MarkResolved(resolveNoteFlag)
		})
	},
}

var signaturesRetriageCmd = &cobra.Command{
	Use:   "retriage <id>",
	Short: "Send a diagnosed signature back to NEW for re-investigation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateSignature(args[0], func(sig *models.Signature) error {
			return sig.Retriage()
		})
	},
}

var tagFlag string

var signaturesTagCmd = &cobra.Command{
	Use:   "tag <id>",
	Short: "Attach a tag to a signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(tagFlag) == "" {
			return fmt.Errorf("--tag is required")
		}
		return mutateSignature(args[0], func(sig *models.Signature) error {
			sig.AddTag(tagFlag)
			return nil
		})
	},
}

var signaturesInvestigateCmd = &cobra.Command{
	Use:   "investigate <id>",
	Short: "Run one investigation for a signature right now",
	Args:  cobra.ExactArgs(1),
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
		engine, err := buildEngine(cfg, logger)
		if err != nil {
			return err
		}
		notifier, err := buildNotifier(cfg)
		if err != nil {
			return err
		}

		budget := scheduler.NewDailyBudget(cfg.Budget.DailyUSD)
		inv := investigate.New(st, tel, engine, notifier, tr, investigate.Config{
			CodebasePath: cfg.LLM.CodebasePath,
		}, budget, logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()
		diag, err := inv.Investigate(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("confidence: %s ($%.4f)\nroot cause: %s\nfix: %s\n",
			diag.Confidence, diag.CostUSD, diag.RootCause, diag.SuggestedFix)
		return nil
	},
}

func init() {
	signaturesListCmd.Flags().StringVar(&listStatusFlag, "status", "", "filter by lifecycle status")
	signaturesMuteCmd.Flags().StringVar(&muteReasonFlag, "reason", "", "why the signature is muted")
	signaturesResolveCmd.Flags().StringVar(&resolveNoteFlag, "note", "", "how the bug was fixed")
	signaturesTagCmd.Flags().StringVar(&tagFlag, "tag", "", "tag to attach (e.g. critical)")

	signaturesCmd.AddCommand(
		signaturesListCmd,
		signaturesShowCmd,
		signaturesMuteCmd,
		signaturesResolveCmd,
		signaturesRetriageCmd,
		signaturesTagCmd,
		signaturesInvestigateCmd,
	)
	rootCmd.AddCommand(signaturesCmd)
}

// withStore runs fn against an opened store with a CLI-scoped context.
func withStore(fn func(ctx context.Context, st store.Store, tr triage.Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logWrapper := buildLogger(cfg, "cli", true)
	defer logWrapper.Close()

	tr, err := buildTriage(cfg)
	if err != nil {
		return err
	}
	st, err := openStore(cfg, tr, logWrapper.Slog())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, st, tr)
}

// mutateSignature loads, mutates and commits one signature.
func mutateSignature(id string, mutate func(*models.Signature) error) error {
	return withStore(func(ctx context.Context, st store.Store, _ triage.Config) error {
		sig, err := st.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(sig); err != nil {
			return err
		}
		if err := st.Update(ctx, sig); err != nil {
			return err
		}
		fmt.Printf("%s -> %s\n", sig.ID(), sig.Status())
		return nil
	})
}

func printSignature(sig *models.Signature) {
	fmt.Printf("id:          %s\n", sig.ID())
	fmt.Printf("fingerprint: %s\n", sig.Fingerprint())
	fmt.Printf("service:     %s\n", sig.Service())
	fmt.Printf("error type:  %s\n", sig.ErrorType())
	fmt.Printf("template:    %s\n", sig.MessageTemplate())
	fmt.Printf("status:      %s\n", sig.Status())
	fmt.Printf("occurrences: %d\n", sig.OccurrenceCount())
	fmt.Printf("first seen:  %s\n", sig.FirstSeen().Format(time.RFC3339))
	fmt.Printf("last seen:   %s\n", sig.LastSeen().Format(time.RFC3339))
	if tags := sig.Tags(); len(tags) > 0 {
		fmt.Printf("tags:        %s\n", strings.Join(tags, ", "))
	}
	if note := sig.ResolutionNote(); note != "" {
		fmt.Printf("resolution:  %s\n", note)
	}
	if reason := sig.MuteReason(); reason != "" {
		fmt.Printf("muted:       %s\n", reason)
	}
	if d := sig.Diagnosis(); d != nil {
		fmt.Printf("\ndiagnosis (%s, model %s, $%.4f, %s):\n",
			d.Confidence, d.Model, d.CostUSD, d.DiagnosedAt.Format(time.RFC3339))
		fmt.Printf("  root cause: %s\n", d.RootCause)
		fmt.Printf("  fix:        %s\n", d.SuggestedFix)
		for _, ev := range d.Evidence {
			fmt.Printf("  evidence:   %s\n", ev)
		}
	}
}
