package platform

// Package platform provides OS and tool integration helpers: the default
// downloads directory, the temporary staging directory shared by worker
// processes, leftover-file cleanup, and playlist expansion through yt-dlp.
