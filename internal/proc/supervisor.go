package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	applog "github.com/zqily/multiyt-dlp/internal/log"
	"github.com/zqily/multiyt-dlp/internal/model"
	"github.com/zqily/multiyt-dlp/internal/parse"
	"github.com/zqily/multiyt-dlp/internal/platform"
)

const (
	// killTimeout bounds how long a signalled worker gets before force-kill
	killTimeout = 10 * time.Second

	// logTailLimit bounds the output tail kept for failure diagnostics
	logTailLimit = 50

	// lineBuffer is the depth of the merged stdout/stderr line channel
	lineBuffer = 100
)

// Result is the terminal outcome of one supervised worker process.
type Result struct {
	Status       model.JobStatus
	OutputPath   string
	ErrorMessage string
}

// Reporter receives everything a supervisor learns about its job. All calls
// for one job come from a single goroutine, in stream order, ending with
// exactly one JobDone.
type Reporter interface {
	JobProgress(id string, percent float64, speed, eta, filename string)
	JobPhase(id string, phase model.Phase)
	JobDone(id string, res Result)
}

// Handle cancels a running worker. Kill is idempotent and non-blocking; the
// terminal Cancelled outcome still arrives through the Reporter.
type Handle interface {
	Kill()
}

// Supervisor owns the lifecycle of one worker process bound to one job.
type Supervisor struct {
	job  model.Job
	tool Tool
	rep  Reporter
	log  *slog.Logger

	// logCtx carries the job id for the context-attr handler. Written once
	// in Run before cmd is published; Kill only reaches it afterwards.
	logCtx context.Context

	mu     sync.Mutex
	cmd    *exec.Cmd
	killed bool

	exited chan struct{}
}

// NewSupervisor creates a supervisor for job. Run must be called exactly once.
func NewSupervisor(job model.Job, tool Tool, rep Reporter, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		job:    job,
		tool:   tool,
		rep:    rep,
		log:    logger,
		logCtx: context.Background(),
		exited: make(chan struct{}),
	}
}

// Start spawns the supervision goroutine and returns its cancellation handle.
func Start(ctx context.Context, job model.Job, tool Tool, rep Reporter, logger *slog.Logger) Handle {
	s := NewSupervisor(job, tool, rep, logger)
	go s.Run(ctx)
	return s
}

// streamState is the cross-line state the parser cannot carry itself: the
// worker announces the destination filename once, then stops repeating it.
type streamState struct {
	phase      model.Phase
	percent    float64
	speed      string
	eta        string
	filename   string
	outputPath string
	errLine    string
	tail       []string
}

// Run spawns the worker, consumes its output until both streams close, and
// reports the terminal outcome. It blocks until the process is gone.
func (s *Supervisor) Run(ctx context.Context) {
	ctx = applog.ContextAttrs(ctx, slog.String("job_id", s.job.ID))
	s.logCtx = ctx

	args := BuildArgs(s.job, s.tool)
	cmd := exec.Command(s.tool.Path, args...)
	setProcAttributes(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.rep.JobDone(s.job.ID, Result{Status: model.StatusFailed, ErrorMessage: launchError(err)})
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.rep.JobDone(s.job.ID, Result{Status: model.StatusFailed, ErrorMessage: launchError(err)})
		return
	}

	if err := cmd.Start(); err != nil {
		s.rep.JobDone(s.job.ID, Result{Status: model.StatusFailed, ErrorMessage: launchError(err)})
		return
	}
	pid := cmd.Process.Pid
	s.log.DebugContext(ctx, "worker started", "pid", pid)

	s.mu.Lock()
	s.cmd = cmd
	killedEarly := s.killed
	s.mu.Unlock()
	if killedEarly {
		s.signalTree(pid)
	}
	stop := context.AfterFunc(ctx, s.Kill)
	defer stop()

	lines := make(chan string, lineBuffer)
	var g errgroup.Group
	g.Go(func() error { return readLines(stdout, lines) })
	g.Go(func() error { return readLines(stderr, lines) })
	go func() {
		_ = g.Wait()
		close(lines)
	}()

	st := streamState{phase: model.PhaseRawDownload}
	for line := range lines {
		s.log.DebugContext(ctx, "worker output", "line", line)
		s.consume(&st, line)
	}

	waitErr := cmd.Wait()
	close(s.exited)

	s.mu.Lock()
	killed := s.killed
	s.cmd = nil
	s.mu.Unlock()

	switch {
	case killed:
		if s.tool.TempDir != "" {
			if n, cerr := platform.CleanupTempFiles(s.tool.TempDir); cerr == nil && n > 0 {
				s.log.DebugContext(ctx, "removed partial files", "count", n)
			}
		}
		s.rep.JobDone(s.job.ID, Result{Status: model.StatusCancelled})
	case waitErr == nil:
		s.rep.JobDone(s.job.ID, Result{Status: model.StatusCompleted, OutputPath: st.outputPath})
	default:
		s.rep.JobDone(s.job.ID, Result{
			Status:       model.StatusFailed,
			ErrorMessage: failureMessage(waitErr, &st),
		})
	}
}

// Kill requests cancellation: signal the process group, then force-kill if
// the worker is still alive after killTimeout. Safe to call at any point of
// the lifecycle, including before spawn and after exit.
func (s *Supervisor) Kill() {
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return
	}
	s.killed = true
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		// Not spawned yet; Run observes the flag right after spawning.
		return
	}
	s.signalTree(cmd.Process.Pid)
}

func (s *Supervisor) signalTree(pid int) {
	if err := terminate(pid); err != nil {
		s.log.WarnContext(s.logCtx, "graceful terminate failed", "pid", pid, "error", err)
	}
	go func() {
		select {
		case <-s.exited:
		case <-time.After(killTimeout):
			s.log.WarnContext(s.logCtx, "worker ignored terminate signal, killing", "pid", pid)
			if err := forceTerminate(pid); err != nil {
				s.log.WarnContext(s.logCtx, "force kill failed", "pid", pid, "error", err)
			}
		}
	}()
}

func (s *Supervisor) consume(st *streamState, line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	st.tail = append(st.tail, trimmed)
	if len(st.tail) > logTailLimit {
		st.tail = st.tail[1:]
	}

	ev, ok := parse.Line(trimmed)
	if !ok {
		return
	}

	id := s.job.ID
	switch ev.Kind {
	case parse.KindError:
		// The first error line is usually the most specific one.
		if st.errLine == "" {
			st.errLine = ev.Message
		}
	case parse.KindDestination:
		st.outputPath = ev.Filename
		st.filename = parse.CleanTitle(ev.Filename)
		s.rep.JobProgress(id, st.percent, st.speed, st.eta, st.filename)
	case parse.KindAlreadyDone:
		st.outputPath = ev.Filename
		st.filename = parse.CleanTitle(ev.Filename)
		st.percent = 100
		st.speed, st.eta = "", ""
		s.rep.JobProgress(id, st.percent, st.speed, st.eta, st.filename)
	case parse.KindPhase:
		if ev.Filename != "" {
			st.outputPath = ev.Filename
			st.filename = parse.CleanTitle(ev.Filename)
		}
		if ev.Phase != st.phase {
			st.phase = ev.Phase
			s.rep.JobPhase(id, ev.Phase)
		}
		// Entering a post-process phase means the raw transfer is over.
		st.percent = 100
		st.speed, st.eta = "", ""
		s.rep.JobProgress(id, st.percent, st.speed, st.eta, st.filename)
	case parse.KindProgress:
		if ev.Percent > st.percent {
			st.percent = ev.Percent
		}
		if ev.Speed != "" {
			st.speed = ev.Speed
		}
		if ev.ETA != "" {
			st.eta = ev.ETA
		}
		s.rep.JobProgress(id, st.percent, st.speed, st.eta, st.filename)
	}
}

// readLines splits r on \n or \r so carriage-return progress updates from
// workers running without --newline still arrive line by line.
func readLines(r io.Reader, lines chan<- string) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	scanner.Split(splitByNewlineOrCR)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func launchError(err error) string {
	return fmt.Sprintf("worker tool unavailable: %v", err)
}

func failureMessage(waitErr error, st *streamState) string {
	if st.errLine != "" {
		return st.errLine
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}
	msg := fmt.Sprintf("yt-dlp exited with code %d", code)
	if len(st.tail) > 0 {
		msg += "\n" + strings.Join(st.tail, "\n")
	}
	return msg
}
