package summarizer

import (
	"fmt"
	"strings"
	"time"
)

// MarkdownFormatter renders a Summary as a Markdown document.
type MarkdownFormatter struct {
	translate func(string) string
	version   string
}

// MarkdownOption configures a MarkdownFormatter.
type MarkdownOption func(*MarkdownFormatter)

// WithTranslator sets the function used to translate headings and labels.
func WithTranslator(fn func(string) string) MarkdownOption {
	return func(f *MarkdownFormatter) {
		if fn != nil {
			f.translate = fn
		}
	}
}

// WithVersion adds the tool version to the footer.
func WithVersion(version string) MarkdownOption {
	return func(f *MarkdownFormatter) {
		f.version = version
	}
}

// NewMarkdownFormatter creates a MarkdownFormatter.
func NewMarkdownFormatter(opts ...MarkdownOption) *MarkdownFormatter {
	f := &MarkdownFormatter{
		translate: func(s string) string { return s },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format implements Formatter.
func (f *MarkdownFormatter) Format(s *Summary) string {
	t := f.translate
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", t("Compression Summary"))

	fmt.Fprintf(&b, "## %s\n\n", t("Input"))
	f.row(&b, "File", s.Input.Name)
	f.row(&b, "Size", formatBytes(s.Input.Bytes))
	f.row(&b, "Resolution", formatSize(s.Input.Width, s.Input.Height))
	f.row(&b, "Duration", fmt.Sprintf("%.2f s", s.Input.DurationSec))
	b.WriteString("\n")

	fmt.Fprintf(&b, "## %s\n\n", t("Output"))
	f.row(&b, "File", s.Output.Name)
	f.row(&b, "Size", formatBytes(s.Output.Bytes))
	f.row(&b, "Resolution", formatSize(s.Output.Width, s.Output.Height))
	f.row(&b, "Frames", fmt.Sprintf("%d", s.Output.FrameCount))
	f.row(&b, "Samples", fmt.Sprintf("%d", s.Output.SampleCount))
	f.row(&b, "Duration", fmt.Sprintf("%d ms", s.Output.DurationMs))
	if ratio := s.CompressionRatio(); ratio > 0 {
		f.row(&b, "Compression Ratio", fmt.Sprintf("%.1f%%", ratio*100))
	} else {
		f.row(&b, "Compression Ratio", "N/A")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## %s\n\n", t("Settings"))
	f.row(&b, "Codec", s.Settings.Codec)
	if s.Settings.Encoder != "" {
		f.row(&b, "Encoder", s.Settings.Encoder)
	}
	f.row(&b, "Bitrate", formatBitrate(s.Settings.Bitrate))
	f.row(&b, "Frame Rate", fmt.Sprintf("%d fps", s.Settings.FrameRate))
	f.row(&b, "Target Width", fmt.Sprintf("%d px", s.Settings.Width))
	if s.Settings.Filter != "" {
		f.row(&b, "Filter", s.Settings.Filter)
	}
	if s.Settings.KeyFrameInterval > 0 {
		f.row(&b, "Key Frame Interval", fmt.Sprintf("%d", s.Settings.KeyFrameInterval))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "---\n\n")
	footer := fmt.Sprintf("%s %s", t("Generated at"), s.GeneratedAt.Format(time.RFC3339))
	if s.Elapsed > 0 {
		footer += fmt.Sprintf(" (%s %s)", t("elapsed"), s.Elapsed.Round(time.Millisecond))
	}
	if s.RunID != "" {
		footer += fmt.Sprintf(", run %s", s.RunID)
	}
	if f.version != "" {
		footer += fmt.Sprintf(", vidcompress %s", f.version)
	}
	b.WriteString(footer + "\n")

	return b.String()
}

func (f *MarkdownFormatter) row(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "- **%s**: %s\n", f.translate(label), value)
}

func formatSize(w, h int) string {
	if w <= 0 || h <= 0 {
		return "N/A"
	}
	return fmt.Sprintf("%dx%d", w, h)
}

func formatBitrate(bps int) string {
	switch {
	case bps >= 1000000:
		return fmt.Sprintf("%.2f Mbps", float64(bps)/1000000)
	case bps >= 1000:
		return fmt.Sprintf("%.0f kbps", float64(bps)/1000)
	default:
		return fmt.Sprintf("%d bps", bps)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMG"[exp])
}
