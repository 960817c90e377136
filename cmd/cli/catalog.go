package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/landmarkdna/pkg/landmark"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/audio"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/render"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List songs in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc landmark.Service) error {
				songs, err := svc.ListSongs(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list songs: %w", err)
				}
				stats, err := svc.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]any{"songs": songs, "stats": stats})
				}

				if len(songs) == 0 {
					fmt.Println("No songs in catalog")
					return nil
				}
				fmt.Printf("Found %d song(s), %d fingerprints:\n\n", stats.Songs, stats.Fingerprints)
				for i, song := range songs {
					fmt.Printf("%d. %q by %s (ID: %d)\n", i+1, song.Title, song.Artist, song.ID)
					if song.DurationMs > 0 {
						duration := song.DurationMs / 1000
						fmt.Printf("   Duration: %d:%02d\n", duration/60, duration%60)
					}
				}
				return nil
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <song_id>",
		Short: "Remove a song and its fingerprints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			songID, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid song ID: %w", err)
			}

			return withService(func(svc landmark.Service) error {
				song, err := svc.GetSongByID(cmd.Context(), uint32(songID))
				if errors.Is(err, storage.ErrSongNotFound) {
					return fmt.Errorf("song %d not found", songID)
				}
				if err != nil {
					return err
				}
				if err := svc.DeleteSong(cmd.Context(), song.ID); err != nil {
					return fmt.Errorf("failed to delete song: %w", err)
				}
				if jsonOutput {
					return printJSON(song)
				}
				fmt.Println("Deleted song:")
				fmt.Printf("   ID:     %d\n", song.ID)
				fmt.Printf("   Title:  %s\n", song.Title)
				fmt.Printf("   Artist: %s\n", song.Artist)
				return nil
			})
		},
	}
}

func newRenderCmd() *cobra.Command {
	var out string
	var peaks bool
	var opts render.Options
	cmd := &cobra.Command{
		Use:   "render <audio_file>",
		Short: "Write a spectrogram or peak map PNG of an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clip, err := audio.Load(cmd.Context(), args[0], cfg.TempDir, cfg.Fingerprint.Spectrogram.SampleRate)
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".png"
			}

			if peaks {
				return withService(func(svc landmark.Service) error {
					if err := render.PeakMapPNG(svc.Fingerprinter(), clip.Samples, clip.SampleRate, out); err != nil {
						return err
					}
					fmt.Printf("Wrote peak map to %s\n", out)
					return nil
				})
			}
			if err := render.SpectrogramPNG(clip.Samples, clip.SampleRate, out, opts); err != nil {
				return err
			}
			fmt.Printf("Wrote spectrogram to %s\n", out)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&out, "output", "o", "", "output PNG path (default: <audio_file>.png)")
	f.BoolVar(&peaks, "peaks", false, "render the extracted peaks instead of the raw spectrogram")
	f.IntVar(&opts.Width, "width", 0, "spectrogram width in pixels")
	f.IntVar(&opts.Height, "height", 0, "spectrogram height in pixels")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Dump(os.Stdout)
		},
	}
}
