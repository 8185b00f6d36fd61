package registry

import (
	"fmt"
	"io"
	"strings"
)

// progressReader wraps a reader and prints an upload progress bar.
type progressReader struct {
	reader  io.Reader
	out     io.Writer
	total   int64
	current int64
	label   string
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	pr.printProgress()
	return n, err
}

func (pr *progressReader) printProgress() {
	if pr.total <= 0 {
		fmt.Fprintf(pr.out, "\r%s: %s", pr.label, formatBytes(pr.current))
		return
	}
	pct := float64(pr.current) / float64(pr.total) * 100
	barLen := 30
	filled := int(pct / 100 * float64(barLen))
	if filled > barLen {
		filled = barLen
	}
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barLen-filled)
	fmt.Fprintf(pr.out, "\r%s: [%s] %.1f%% %s/%s", pr.label, bar, pct, formatBytes(pr.current), formatBytes(pr.total))
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
