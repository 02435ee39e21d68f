package command

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/joeycumines/goja-hostbridge/internal/config"
)

// LogCommand prints, and optionally follows, the bridge's JSON log file.
type LogCommand struct {
	*BaseCommand
	config *config.Config
	follow bool
	lines  int
	file   string
	poll   time.Duration
}

// NewLogCommand creates a new log command.
func NewLogCommand(cfg *config.Config) *LogCommand {
	return &LogCommand{
		BaseCommand: NewBaseCommand("log", "View and tail the log file", "log [tail] [options]"),
		config:      cfg,
		poll:        200 * time.Millisecond,
	}
}

func (c *LogCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.follow, "f", false, "Follow the log file (like tail -f)")
	fs.IntVar(&c.lines, "n", 10, "Number of lines to show from the end of the file")
	fs.StringVar(&c.file, "file", "", "Path to log file (overrides log.file)")
}

func (c *LogCommand) Execute(args []string, stdout, stderr io.Writer) error {
	// "log tail" is "log -f"
	if len(args) > 0 && args[0] == "tail" {
		c.follow = true
		args = args[1:]
	}
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unknown subcommand: %s\n", args[0])
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}

	logPath := c.file
	if logPath == "" {
		logPath = config.DefaultSchema().Resolve(c.config, config.KeyLogFile)
	}
	if logPath == "" {
		_, _ = fmt.Fprintln(stderr, "No log file configured. Use --file or set log.file in config.")
		return fmt.Errorf("no log file configured")
	}

	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			_, _ = fmt.Fprintf(stderr, "Log file does not exist: %s\n", logPath)
			return fmt.Errorf("log file not found: %s", logPath)
		}
		return fmt.Errorf("failed to open log file: %w", err)
	}
	for _, line := range readLastNLines(f, c.lines) {
		_, _ = fmt.Fprintln(stdout, line)
	}
	if !c.follow {
		return f.Close()
	}

	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err = c.followFile(ctx, f, logPath, pos, stdout)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readLastNLines returns the last n lines of r, keeping at most n in memory.
func readLastNLines(r io.Reader, n int) []string {
	if n <= 0 {
		return nil
	}
	ring := make([]string, n)
	count := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		ring[count%n] = scanner.Text()
		count++
	}
	total := min(count, n)
	out := make([]string, total)
	for i := range total {
		out[i] = ring[(count-total+i)%n]
	}
	return out
}

// followFile prints lines appended to f until ctx is done. A file that
// shrinks below pos was rotated and is reopened from the start.
func (c *LogCommand) followFile(ctx context.Context, f *os.File, logPath string, pos int64, stdout io.Writer) error {
	defer func() { _ = f.Close() }()
	reader := bufio.NewReader(f)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if info, err := os.Stat(logPath); err == nil && info.Size() < pos {
			reopened, err := os.Open(logPath)
			if err != nil {
				continue
			}
			_ = f.Close()
			f, reader, pos = reopened, bufio.NewReader(reopened), 0
		}

		for {
			line, err := reader.ReadString('\n')
			if len(line) > 0 && line[len(line)-1] == '\n' {
				_, _ = fmt.Fprint(stdout, line)
				pos += int64(len(line))
			} else if len(line) > 0 {
				// partial line: reread it once complete
				if _, err := f.Seek(pos, io.SeekStart); err == nil {
					reader.Reset(f)
				}
				break
			}
			if err != nil {
				break
			}
		}
	}
}
