package proc

// Package proc supervises one external yt-dlp process per job: it
// materializes the argument list from the job record, spawns the worker in
// its own process group, streams stdout/stderr line by line through the
// progress parser, and interprets the exit state. Cancellation signals the
// whole process group so merge/encode subprocesses die with their parent.
