package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zqily/multiyt-dlp/internal/config"
	applog "github.com/zqily/multiyt-dlp/internal/log"
)

var (
	settings *config.Settings
	logger   *slog.Logger

	flagConfigPath     string
	flagVerbose        bool
	flagDir            string
	flagFormat         string
	flagTemplate       string
	flagEmbedMetadata  bool
	flagEmbedThumbnail bool
	flagSafeFilenames  bool
	flagMaxDownloads   int
	flagMaxTotal       int
	flagResume         bool
	flagDiscard        bool
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "settings file to load, default is settings.json in the user config dir")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.Flags().StringVarP(&flagDir, "dir", "d", "", "output directory, default is the system Downloads folder")
	rootCmd.Flags().StringVarP(&flagFormat, "format", "f", "", "format preset: best, best-mp4, best-mkv, best-webm, audio, mp3, flac, m4a")
	rootCmd.Flags().StringVarP(&flagTemplate, "template", "t", "", "output filename template")
	rootCmd.Flags().BoolVar(&flagEmbedMetadata, "embed-metadata", false, "embed metadata tags into the output file")
	rootCmd.Flags().BoolVar(&flagEmbedThumbnail, "embed-thumbnail", false, "embed thumbnail art into the output file")
	rootCmd.Flags().BoolVar(&flagSafeFilenames, "safe-filenames", false, "restrict output names to filesystem-safe characters")
	rootCmd.Flags().IntVar(&flagMaxDownloads, "max-downloads", 0, "concurrent raw downloads ceiling")
	rootCmd.Flags().IntVar(&flagMaxTotal, "max-total", 0, "total live worker processes ceiling")
	rootCmd.Flags().BoolVar(&flagResume, "resume", false, "resubmit jobs left over from an interrupted run")
	rootCmd.Flags().BoolVar(&flagDiscard, "discard", false, "drop jobs left over from an interrupted run")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initApp

	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("multiyt-dlp failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "multiyt-dlp [url ...]",
	Short:        "Concurrent download queue driving yt-dlp workers",
	SilenceUsage: true,
	RunE:         doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version prints build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("multiyt-dlp: version info not available")
			return
		}
		fmt.Printf("multiyt-dlp: %s\n", info.Main.Version)
		fmt.Printf("go:          %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:      %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:        %s\n", s.Value)
			}
		}
	},
}

func initApp(cmd *cobra.Command, _ []string) error {
	// Optional .env next to the working directory; absence is fine.
	_ = godotenv.Load()

	path := flagConfigPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}
	var err error
	settings, err = config.Load(path)
	if err != nil {
		return err
	}

	logger = applog.New(flagVerbose)
	slog.SetDefault(logger)
	return nil
}
