// Package output renders command results as styled text or JSON.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/term" //nolint:depguard // Required for TTY detection

	pkgerrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/fileops"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/session"
)

//nolint:gochecknoglobals // Shared encoder configuration
var json = jsoniter.ConfigCompatibleWithStandardLibrary

const timeLayout = "2006-01-02 15:04"

// Printer writes results to out and errors to errOut.
type Printer struct {
	out      io.Writer
	errOut   io.Writer
	json     bool
	styled   bool
	renderer *lipgloss.Renderer
	enricher pkgerrors.Enricher
}

// NewPrinter returns a printer. Styling is enabled only when out is a
// terminal and JSON output is off.
func NewPrinter(out, errOut io.Writer, jsonOutput bool) *Printer {
	styled := false
	if f, ok := out.(*os.File); ok && !jsonOutput {
		styled = term.IsTerminal(int(f.Fd())) //nolint:gosec // File descriptors fit in int
	}

	return &Printer{
		out:      out,
		errOut:   errOut,
		json:     jsonOutput,
		styled:   styled,
		renderer: lipgloss.NewRenderer(out),
		enricher: pkgerrors.NewEnricher(),
	}
}

// EntryRecord is the JSON form of a file.
type EntryRecord struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

func newEntryRecord(info filesystem.FileInfo) EntryRecord {
	return EntryRecord{
		Path:    info.Path(),
		Name:    info.Name(),
		Size:    info.Size(),
		Mode:    info.Mode().String(),
		ModTime: info.ModTime().UTC(),
		IsDir:   info.IsDir(),
	}
}

// Listing prints the children of a directory.
func (p *Printer) Listing(infos []filesystem.FileInfo, long bool) error {
	if p.json {
		records := make([]EntryRecord, len(infos))
		for i, info := range infos {
			records[i] = newEntryRecord(info)
		}

		return p.encode(records)
	}

	var builder strings.Builder

	for _, info := range infos {
		name := info.Name()
		if info.IsDir() {
			name = p.style(DirStyle, name+"/")
		}

		if long {
			fmt.Fprintf(&builder, "%s %10s %s %s\n",
				p.style(DimStyle, info.Mode().String()),
				FormatBytes(info.Size()),
				p.style(DimStyle, info.ModTime().Format(timeLayout)),
				name)
		} else {
			builder.WriteString(name + "\n")
		}
	}

	return p.write(builder.String())
}

// Info prints the attributes of one file.
func (p *Printer) Info(info filesystem.FileInfo) error {
	if p.json {
		return p.encode(newEntryRecord(info))
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}

	return p.write(p.fields([][2]string{
		{"Path", info.Path()},
		{"Type", kind},
		{"Size", fmt.Sprintf("%d (%s)", info.Size(), FormatBytes(info.Size()))},
		{"Mode", info.Mode().String()},
		{"Modified", info.ModTime().Format(time.RFC3339)},
	}))
}

// ScanResults prints the entries found by a walk.
func (p *Printer) ScanResults(entries []filesystem.ScanEntry) error {
	if p.json {
		records := make([]EntryRecord, len(entries))
		for i, entry := range entries {
			records[i] = newEntryRecord(entry.Info)
		}

		return p.encode(records)
	}

	var builder strings.Builder

	for _, entry := range entries {
		if entry.IsDir {
			builder.WriteString(p.style(DirStyle, entry.RelativePath+"/") + "\n")
		} else {
			builder.WriteString(entry.RelativePath + "\n")
		}
	}

	return p.write(builder.String())
}

// PoolRecord is the JSON form of pool statistics.
type PoolRecord struct {
	Free         int                  `json:"free"`
	Busy         int                  `json:"busy"`
	Pending      int                  `json:"pending"`
	MinSize      int                  `json:"min_size"`
	CoreSize     int                  `json:"core_size"`
	MaxSize      int                  `json:"max_size"`
	Capabilities session.Capabilities `json:"capabilities"`
}

// PoolStats prints pool occupancy and the detected server features.
func (p *Printer) PoolStats(stats pool.Stats, caps session.Capabilities) error {
	if p.json {
		return p.encode(PoolRecord{
			Free: stats.Free, Busy: stats.Busy, Pending: stats.Pending,
			MinSize: stats.MinSize, CoreSize: stats.CoreSize, MaxSize: stats.MaxSize,
			Capabilities: caps,
		})
	}

	return p.write(p.style(TitleStyle, "Session pool") + "\n" + p.fields([][2]string{
		{"Free", fmt.Sprint(stats.Free)},
		{"Busy", fmt.Sprint(stats.Busy)},
		{"Pending", fmt.Sprint(stats.Pending)},
		{"Bounds", fmt.Sprintf("min %d, core %d, max %d", stats.MinSize, stats.CoreSize, stats.MaxSize)},
		{"Structured stat", yesNo(caps.StructuredStat)},
		{"Precise list time", yesNo(caps.PreciseListTime)},
		{"Atomic rename", yesNo(caps.PosixRename)},
	}))
}

// TransferRecord is the JSON form of a finished transfer.
type TransferRecord struct {
	Source   string  `json:"source"`
	Dest     string  `json:"dest"`
	Bytes    int64   `json:"bytes"`
	Seconds  float64 `json:"seconds"`
	SHA256   string  `json:"sha256,omitempty"`
	ReadSec  float64 `json:"read_seconds"`
	WriteSec float64 `json:"write_seconds"`
}

// Transfer prints the outcome of a download or upload.
func (p *Printer) Transfer(src, dst string, stats *fileops.CopyStats, elapsed time.Duration) error {
	if p.json {
		return p.encode(TransferRecord{
			Source: src, Dest: dst, Bytes: stats.BytesCopied, Seconds: elapsed.Seconds(), SHA256: stats.Hash,
			ReadSec: stats.ReadTime.Seconds(), WriteSec: stats.WriteTime.Seconds(),
		})
	}

	rate := 0.0
	if elapsed > 0 {
		rate = float64(stats.BytesCopied) / elapsed.Seconds()
	}

	line := fmt.Sprintf("%s %s → %s (%s in %s, %s)",
		p.style(SuccessStyle, "✓"), src, dst,
		FormatBytes(stats.BytesCopied), FormatDuration(elapsed), FormatRate(rate))
	if stats.Hash != "" {
		line += "\n  sha256 " + stats.Hash
	}

	return p.write(line + "\n")
}

// Done reports a completed command that has no other output.
func (p *Printer) Done(message string) error {
	if p.json {
		return p.encode(map[string]any{"ok": true, "message": message})
	}

	return p.write(p.style(SuccessStyle, "✓") + " " + message + "\n")
}

// Warn prints a non-fatal message to the error stream.
func (p *Printer) Warn(message string) {
	_, _ = fmt.Fprintln(p.errOut, p.style(WarningStyle, "warning:")+" "+message)
}

// Error prints err with suggestions for fixing it.
func (p *Printer) Error(err error, affectedPath string) {
	enriched := p.enricher.Enrich(err, affectedPath)

	if p.json {
		record := map[string]any{"ok": false, "error": err.Error()}

		if actionable, ok := enriched.(pkgerrors.ActionableError); ok {
			record["category"] = actionable.Category()
			record["suggestions"] = actionable.Suggestions()
		}

		_ = json.NewEncoder(p.errOut).Encode(record)

		return
	}

	_, _ = fmt.Fprintln(p.errOut, p.style(ErrorStyle, "Error:")+" "+err.Error())

	if suggestions := pkgerrors.FormatSuggestions(enriched); suggestions != "" {
		_, _ = fmt.Fprintln(p.errOut, p.style(LabelStyle, "Suggestions:"))
		_, _ = fmt.Fprintln(p.errOut, suggestions)
	}
}

func (p *Printer) fields(rows [][2]string) string {
	width := 0
	for _, row := range rows {
		width = max(width, len(row[0]))
	}

	var builder strings.Builder

	for _, row := range rows {
		label := fmt.Sprintf("%-*s", width+1, row[0]+":")
		builder.WriteString(p.style(LabelStyle, label) + " " + row[1] + "\n")
	}

	return builder.String()
}

func (p *Printer) style(style func(*lipgloss.Renderer) lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}

	return style(p.renderer).Render(text)
}

func (p *Printer) encode(v any) error {
	encoder := json.NewEncoder(p.out)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	return nil
}

func (p *Printer) write(s string) error {
	if _, err := io.WriteString(p.out, s); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}
