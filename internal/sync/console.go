package sync

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/openmined/treesync/internal/compare"
	"github.com/openmined/treesync/internal/utils"
)

// ConsoleReporter prints the progress of a run for humans.
type ConsoleReporter struct {
	w         io.Writer
	errorFile string
	verbose   bool

	mu      sync.Mutex
	dir     lipgloss.Style
	bucket  lipgloss.Style
	step    lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

// NewConsoleReporter writes to w. Colours are used only when w is a terminal.
// When verbose is set every file step is printed as well.
func NewConsoleReporter(w io.Writer, errorFile string, verbose bool) *ConsoleReporter {
	r := lipgloss.NewRenderer(w)
	return &ConsoleReporter{
		w:         w,
		errorFile: errorFile,
		verbose:   verbose,
		dir:       r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		bucket:    r.NewStyle().Foreground(lipgloss.Color("14")).PaddingLeft(2),
		step:      r.NewStyle().Foreground(lipgloss.Color("8")).PaddingLeft(4),
		success:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		failure:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		muted:     r.NewStyle().Faint(true),
	}
}

func (c *ConsoleReporter) println(style lipgloss.Style, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, style.Render(fmt.Sprintf(format, args...)))
}

func (c *ConsoleReporter) EnterDir(dc *compare.DirectoryClassification) {
	dir := dc.Dir
	if dir == "" {
		dir = "."
	}
	c.println(c.dir, "Entering dir %s", dir)
}

func (c *ConsoleReporter) StartBucket(_ string, bucket Bucket, count int) {
	c.println(c.bucket, "%s", bucket.Label(count))
}

func (c *ConsoleReporter) Step(op OpType, path string) {
	if !c.verbose {
		return
	}
	c.println(c.step, "%s %s", op, path)
}

func (c *ConsoleReporter) UploadRate(_ string, bytes int64, elapsed time.Duration) {
	c.println(c.bucket, "Network upload speed %s/sec (%s in %s)",
		utils.HumanizeFileSize(Throughput(bytes, elapsed)),
		humanize.IBytes(uint64(bytes)),
		elapsed.Round(time.Millisecond))
}

func (c *ConsoleReporter) ListingFailed(err *compare.DirectoryListingError) {
	c.println(c.failure, "Cannot list %s dir %s: %v", err.Side, err.Path, err.Err)
}

func (c *ConsoleReporter) Finish(res *Result) {
	style := c.success
	if res.Errors > 0 || res.Interrupted {
		style = c.failure
	}
	prefix := ""
	if res.DryRun {
		prefix = "(dry run) "
	}
	c.println(style, "%s%s", prefix, res.Summary(c.errorFile))
	c.println(c.muted, "%s dirs, %s uploaded (%s), %s deleted, %s replaced, %s unchanged, %s symlinks skipped in %s",
		humanize.Comma(int64(res.Directories)),
		humanize.Comma(int64(res.Uploaded)),
		humanize.IBytes(uint64(res.BytesUploaded)),
		humanize.Comma(int64(res.Deleted)),
		humanize.Comma(int64(res.Replaced)),
		humanize.Comma(int64(res.Unchanged)),
		humanize.Comma(int64(res.SymlinksSkipped)),
		res.Duration.Round(time.Millisecond))
}

var _ Reporter = (*ConsoleReporter)(nil)
