package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/himanishpuri/landmarkdna/pkg/landmark"
	"github.com/himanishpuri/landmarkdna/pkg/utils"
)

func newAddCmd() *cobra.Command {
	var title, artist string
	cmd := &cobra.Command{
		Use:   "add <audio_file>",
		Short: "Fingerprint one audio file and add it to the catalog",
		Long: `Fingerprint one audio file and add it to the catalog. Title and artist
default to the file's tags, then to its name. Adding the same title and
artist twice reuses the existing song.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			return withService(func(svc landmark.Service) error {
				log.Infof("Adding %s", args[0])
				res, err := svc.AddSong(ctx, args[0], title, artist)
				if err != nil {
					return fmt.Errorf("failed to add song: %w", err)
				}
				if jsonOutput {
					return printJSON(res)
				}

				if res.Created {
					fmt.Println("Added song to catalog")
				} else {
					fmt.Println("Song already in catalog, fingerprints refreshed")
				}
				fmt.Printf("   ID:        %d\n", res.Song.ID)
				fmt.Printf("   Title:     %s\n", res.Song.Title)
				fmt.Printf("   Artist:    %s\n", res.Song.Artist)
				fmt.Printf("   Landmarks: %d\n", res.Landmarks)
				fmt.Printf("   Took:      %s\n", res.Elapsed.Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "song title")
	cmd.Flags().StringVar(&artist, "artist", "", "artist name")
	return cmd
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file_or_dir>...",
		Short: "Fingerprint every audio file under the given paths concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := utils.ListAudioFiles(args...)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no audio files found")
			}

			return withService(func(svc landmark.Service) error {
				var progress func(landmark.IngestResult)
				var p *mpb.Progress
				if !jsonOutput {
					p = mpb.NewWithContext(cmd.Context(), mpb.WithWidth(64))
					bar := p.AddBar(int64(len(paths)),
						mpb.PrependDecorators(
							decor.Name("Ingesting: "),
							decor.CountersNoUnit("%d / %d"),
						),
						mpb.AppendDecorators(
							decor.Percentage(),
							decor.EwmaETA(decor.ET_STYLE_GO, 60),
						),
					)
					start := time.Now()
					progress = func(landmark.IngestResult) {
						bar.EwmaIncrement(time.Since(start))
						start = time.Now()
					}
				}

				results, err := svc.IngestFiles(cmd.Context(), paths, progress)
				if p != nil {
					p.Wait()
				}

				var added, existing, failed, landmarks int
				for _, r := range results {
					switch {
					case r.Err != nil:
						failed++
						fmt.Printf("   failed: %s: %v\n", r.Path, r.Err)
					case r.Created:
						added++
					case r.Song.ID != 0:
						existing++
					}
					landmarks += r.Landmarks
				}
				if jsonOutput {
					if perr := printJSON(results); perr != nil {
						return perr
					}
				} else {
					fmt.Printf("\nAdded %d, already present %d, failed %d (%d landmarks)\n", added, existing, failed, landmarks)
				}
				return err
			})
		},
	}
}
