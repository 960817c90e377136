package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/landmarkdna/pkg/landmark"
	"github.com/himanishpuri/landmarkdna/pkg/utils"
)

func newMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match <audio_file>",
		Short: "Identify the catalog song a recording was taken from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			return withService(func(svc landmark.Service) error {
				res, err := svc.MatchSong(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to match song: %w", err)
				}
				if jsonOutput {
					return printJSON(res)
				}

				if res.NoMatch() {
					fmt.Println("No match found in catalog")
				} else {
					fmt.Printf("Match: %q by %s (ID: %d)\n", res.Title, res.Artist, res.SongID)
					fmt.Printf("   Offset:     %.2fs into the song\n", res.AlignedOffsetSeconds)
					fmt.Printf("   Votes:      %d (runner-up %d, %d total)\n", res.Votes, res.RunnerUpVotes, res.TotalVotes)
					fmt.Printf("   Confidence: %.1f%%\n", res.Confidence*100)
				}
				fmt.Printf("   Query:      %.1fs, %d hashes, %d matching rows, %s\n",
					res.QuerySeconds, res.QueryHashes, res.MatchedRows, res.Elapsed.Round(time.Millisecond))

				if len(res.Candidates) > 1 || (res.NoMatch() && len(res.Candidates) > 0) {
					fmt.Println("\nCandidates:")
					for i, c := range res.Candidates {
						fmt.Printf("%d. song %d: %d votes at %.2fs (%d total)\n",
							i+1, c.SongID, c.Votes, c.OffsetSeconds, c.TotalVotes)
					}
				}
				return nil
			})
		},
	}
}

func newEvaluateCmd() *cobra.Command {
	var opts landmark.EvalOptions
	cmd := &cobra.Command{
		Use:   "evaluate <file_or_dir>...",
		Short: "Measure recognition accuracy on random snippets of ingested files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := utils.ListAudioFiles(args...)
			if err != nil {
				return err
			}
			opts.AddNoise = cmd.Flags().Changed("snr")

			return withService(func(svc landmark.Service) error {
				report, err := svc.Evaluate(cmd.Context(), paths, opts)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(report)
				}

				for _, f := range report.Files {
					if f.Err != "" {
						fmt.Printf("   skipped %s: %s\n", f.Path, f.Err)
						continue
					}
					fmt.Printf("   %-40s correct %d, wrong %d, misaligned %d, no match %d, failed %d\n",
						f.Path, f.Correct, f.Wrong, f.Misalign, f.NoMatch, f.Errors)
				}
				fmt.Printf("\nRun %s\n", report.RunID)
				fmt.Printf("   Snippets:          %d\n", report.Snippets)
				fmt.Printf("   Accuracy:          %.1f%%\n", report.Accuracy*100)
				fmt.Printf("   Wrong song:        %d\n", report.Wrong)
				fmt.Printf("   No match:          %d\n", report.NoMatch)
				fmt.Printf("   Failed:            %d\n", report.Errors)
				fmt.Printf("   Mean offset error: %.3fs\n", report.MeanOffsetError)
				fmt.Printf("   Skipped files:     %d\n", report.Skipped)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.Snippets, "snippets", "n", 5, "snippets per file")
	f.Float64VarP(&opts.SnippetSeconds, "length", "l", 5, "snippet length in seconds")
	f.Float64Var(&opts.SNR, "snr", 0, "add white noise at this signal-to-noise ratio in dB")
	f.Int64Var(&opts.Seed, "seed", 1, "random seed for snippet positions and noise")
	f.Float64Var(&opts.OffsetTolerance, "tolerance", 0.5, "largest offset error in seconds counted as correct")
	return cmd
}
