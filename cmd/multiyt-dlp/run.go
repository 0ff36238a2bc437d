package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zqily/multiyt-dlp/internal/download"
	"github.com/zqily/multiyt-dlp/internal/event"
	"github.com/zqily/multiyt-dlp/internal/model"
	"github.com/zqily/multiyt-dlp/internal/platform"
	"github.com/zqily/multiyt-dlp/internal/proc"
	"github.com/zqily/multiyt-dlp/internal/store"
)

// stopGrace bounds how long shutdown waits for killed workers to exit.
const stopGrace = 15 * time.Second

var formatNames = map[string]model.FormatPreset{
	"best":      model.FormatBest,
	"best-mp4":  model.FormatBestMP4,
	"best-mkv":  model.FormatBestMKV,
	"best-webm": model.FormatBestWebM,
	"audio":     model.FormatAudioBest,
	"mp3":       model.FormatAudioMP3,
	"flac":      model.FormatAudioFLAC,
	"m4a":       model.FormatAudioM4A,
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	format := settings.GetFormatPreset()
	if flagFormat != "" {
		var ok bool
		format, ok = formatNames[flagFormat]
		if !ok {
			return fmt.Errorf("unknown format preset %q", flagFormat)
		}
	}
	// Settings and env can carry arbitrary strings; reject them here rather
	// than passing junk to every worker.
	if !slices.Contains(settings.GetFormatPresetOptions(), format) {
		return fmt.Errorf("unknown format preset %q in settings", format)
	}

	tool, err := proc.FindTool()
	if err != nil {
		return err
	}
	if tool.TempDir != "" {
		if n, err := platform.CleanupTempFiles(tool.TempDir); err == nil && n > 0 {
			logger.Info("removed leftover partial files", slog.Int("count", n))
		}
	}

	outputDir := flagDir
	if outputDir == "" {
		outputDir = settings.GetDownloadDir()
	}
	if err := platform.EnsureDir(outputDir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	st, err := store.Open(settings.GetQueueDBPath())
	if err != nil {
		return err
	}
	defer st.Close()

	pub := event.NewPublisher(newStreamSink(os.Stdout), event.DefaultFlushInterval)
	pub.Start()
	defer pub.Stop()

	startWorker := func(ctx context.Context, job model.Job, rep proc.Reporter) proc.Handle {
		return proc.Start(ctx, job, tool, rep, logger)
	}
	svc := download.NewService(startWorker, st, pub,
		pickCeiling(flagMaxDownloads, settings.GetMaxDownloads()),
		pickCeiling(flagMaxTotal, settings.GetMaxTotal()),
		logger)

	if err := handleLeftovers(ctx, svc); err != nil {
		return err
	}

	reqs, err := buildRequests(ctx, args, outputDir, format)
	if err != nil {
		return err
	}
	if len(reqs) > 0 {
		jobs, err := svc.SubmitBatch(reqs)
		if err != nil {
			return err
		}
		logger.Info("jobs submitted", slog.Int("count", len(jobs)))
	}

	if err := waitForQueue(ctx, svc); err != nil {
		return err
	}
	return summarize(svc)
}

func pickCeiling(flag, configured int) int {
	if flag > 0 {
		return flag
	}
	return configured
}

// handleLeftovers surfaces jobs persisted by an interrupted run. They are
// only resubmitted or dropped on an explicit flag, never silently.
func handleLeftovers(ctx context.Context, svc *download.Service) error {
	leftover, err := svc.ListResumable(ctx)
	if err != nil {
		return err
	}
	if len(leftover) == 0 {
		return nil
	}

	switch {
	case flagDiscard:
		if err := svc.DiscardAll(ctx); err != nil {
			return err
		}
		logger.Info("discarded interrupted jobs", slog.Int("count", len(leftover)))
	case flagResume:
		resumed, err := svc.ResumeAll(ctx)
		if err != nil {
			return err
		}
		logger.Info("resubmitted interrupted jobs", slog.Int("count", len(resumed)))
	default:
		for _, job := range leftover {
			fmt.Fprintf(os.Stderr, "interrupted: %s\n", job.SourceURL)
		}
		return fmt.Errorf("%d interrupted job(s) found; rerun with --resume or --discard", len(leftover))
	}
	return nil
}

// buildRequests turns CLI arguments into one request per video, expanding
// playlist URLs in place so playlist order is preserved in the queue.
func buildRequests(ctx context.Context, args []string, outputDir string, format model.FormatPreset) ([]model.Request, error) {
	template := flagTemplate
	if template == "" {
		template = settings.GetFilenameTemplate()
	}

	expander := platform.NewPlaylistExpander()
	var reqs []model.Request
	for _, arg := range args {
		urls := []string{arg}
		if platform.IsPlaylistURL(arg) {
			expanded, err := expander.Expand(ctx, arg)
			if err != nil {
				return nil, fmt.Errorf("failed to expand playlist %s: %w", arg, err)
			}
			logger.Info("playlist expanded",
				slog.String("url", arg), slog.Int("entries", len(expanded)))
			urls = expanded
		}
		for _, u := range urls {
			reqs = append(reqs, model.Request{
				SourceURL:        u,
				OutputDir:        outputDir,
				FormatSpec:       format,
				FilenameTemplate: template,
				EmbedMetadata:    flagEmbedMetadata,
				EmbedThumbnail:   flagEmbedThumbnail,
				SafeFilenames:    flagSafeFilenames,
			})
		}
	}
	return reqs, nil
}

// waitForQueue blocks until the queue drains. On interrupt it cancels
// everything and allows workers a bounded grace period to die.
func waitForQueue(ctx context.Context, svc *download.Service) error {
	done := make(chan struct{})
	go func() {
		_ = svc.Wait(context.Background())
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Info("interrupt received, stopping all jobs")
		svc.StopAll()
		select {
		case <-done:
		case <-time.After(stopGrace):
			logger.Warn("timed out waiting for workers to exit")
		}
		return nil
	}
}

func summarize(svc *download.Service) error {
	var completed, failed, cancelled int
	for _, job := range svc.Jobs() {
		switch job.Status {
		case model.StatusCompleted:
			completed++
		case model.StatusFailed:
			failed++
		case model.StatusCancelled:
			cancelled++
		}
	}
	logger.Info("queue drained",
		slog.Int("completed", completed),
		slog.Int("failed", failed),
		slog.Int("cancelled", cancelled))
	if failed > 0 {
		return fmt.Errorf("%d download(s) failed", failed)
	}
	return nil
}
