package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/muurk/brlink/internal/bridge"
	"github.com/muurk/brlink/internal/ui"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Work with bridge capture files",
}

var captureVerifyCmd = &cobra.Command{
	Use:   "verify <directory-or-file>...",
	Short: "Re-decode capture files and check every record",
	Long: `Re-decode the raw frame of every record in bridge capture files.

Each record's fields and valid flag are compared with what the decoder
makes of its raw bytes. A directory is searched for *.jsonl files.`,
	Example: `  brlink capture verify ./captures
  brlink capture verify capture-20250101-120000.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCaptureVerify,
}

func init() {
	captureCmd.AddCommand(captureVerifyCmd)
	rootCmd.AddCommand(captureCmd)
}

// captureStats tracks verification results
type captureStats struct {
	Files      int
	Records    int
	Verified   int
	Invalid    int // records of frames that failed their checksum
	Failures   []captureFailure
	MessageIDs map[uint16]int
	Directions map[string]int
}

// captureFailure stores information about a record that did not verify
type captureFailure struct {
	File  string
	Line  int
	Seq   uint64
	Error string
}

func newCaptureStats() *captureStats {
	return &captureStats{
		MessageIDs: make(map[uint16]int),
		Directions: make(map[string]int),
	}
}

func runCaptureVerify(cmd *cobra.Command, args []string) error {
	files, err := captureFiles(args)
	if err != nil {
		return err
	}

	stats := newCaptureStats()
	for _, file := range files {
		if err := verifyCaptureFile(file, stats); err != nil {
			return err
		}
	}

	printCaptureStats(cmd.OutOrStdout(), stats)
	if len(stats.Failures) > 0 {
		return fmt.Errorf("%d of %d records failed verification", len(stats.Failures), stats.Records)
	}
	return nil
}

func captureFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		matches, err := filepath.Glob(filepath.Join(path, "*.jsonl"))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", path, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no capture files found in %s", path)
		}
		files = append(files, matches...)
	}
	return files, nil
}

func verifyCaptureFile(path string, stats *captureStats) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	stats.Files++
	err = bridge.ReadCapture(f, func(line int, rec bridge.FrameRecord) error {
		stats.Records++
		stats.Directions[rec.Direction]++

		if _, err := bridge.VerifyRecord(rec); err != nil {
			stats.Failures = append(stats.Failures, captureFailure{
				File:  path,
				Line:  line,
				Seq:   rec.Seq,
				Error: err.Error(),
			})
			return nil
		}

		stats.Verified++
		stats.MessageIDs[rec.MessageID]++
		if !rec.Valid {
			stats.Invalid++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func printCaptureStats(w io.Writer, stats *captureStats) {
	p := ui.NewPrinter(w)

	p.PrintHeader("Capture verification", "brlink capture verify",
		ui.Field{Key: "Files", Value: fmt.Sprint(stats.Files)},
		ui.Field{Key: "Records", Value: fmt.Sprint(stats.Records)},
		ui.Field{Key: "Verified", Value: fmt.Sprint(stats.Verified)},
		ui.Field{Key: "Bad checksum", Value: fmt.Sprint(stats.Invalid)},
	)

	ids := make([]uint16, 0, len(stats.MessageIDs))
	for id := range stats.MessageIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	p.Println(ui.SubtitleStyle.Render("Message ids:"))
	for _, id := range ids {
		p.Printf("  0x%04x  %d\n", id, stats.MessageIDs[id])
	}
	p.Println(ui.SubtitleStyle.Render("Directions:"))
	for _, dir := range []string{bridge.DirectionFromLink, bridge.DirectionToLink} {
		if n := stats.Directions[dir]; n > 0 {
			p.Printf("  %-14s %d\n", dir, n)
		}
	}

	if len(stats.Failures) == 0 {
		p.PrintSuccess("All records verified")
		return
	}

	const maxShow = 10
	hints := make([]string, 0, maxShow+1)
	for i, f := range stats.Failures {
		if i == maxShow {
			hints = append(hints, fmt.Sprintf("... and %d more", len(stats.Failures)-maxShow))
			break
		}
		hints = append(hints, fmt.Sprintf("%s:%d (seq %d): %s", filepath.Base(f.File), f.Line, f.Seq, f.Error))
	}
	p.PrintError(fmt.Sprintf("%d records failed verification", len(stats.Failures)), nil, hints...)
}
