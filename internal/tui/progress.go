// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package tui renders fetch progress for humans: a live byte bar for the
// descriptor being transferred on a terminal, plain status lines otherwise.
package tui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/bodaay/assetfetch/pkg/assetfetch"
)

const barTemplate = `{{string . "prefix"}} {{bar . "[" "=" ">" " " "]"}} {{counters . }} {{speed . "%s/s" ""}} {{rtime . "ETA %s"}}`

// Renderer prints progress events for one fetch run. It is safe for
// concurrent use.
type Renderer struct {
	out         io.Writer
	interactive bool

	mu    sync.Mutex
	bar   *pb.ProgressBar
	start time.Time

	files      int
	fetched    int
	skipped    int
	downloaded int64

	title, ok, skip, warn, fail, faint *color.Color
}

// New returns a Renderer writing to out. Live bars are used only when out is
// a terminal that understands ANSI sequences and NO_COLOR is unset.
func New(out io.Writer) *Renderer {
	r := &Renderer{
		out:         out,
		interactive: IsInteractive(out),
		start:       time.Now(),
		title:       color.New(color.FgCyan, color.Bold),
		ok:          color.New(color.FgGreen),
		skip:        color.New(color.FgBlue),
		warn:        color.New(color.FgYellow),
		fail:        color.New(color.FgRed, color.Bold),
		faint:       color.New(color.Faint),
	}
	if !r.interactive {
		for _, c := range []*color.Color{r.title, r.ok, r.skip, r.warn, r.fail, r.faint} {
			c.DisableColor()
		}
	}
	return r
}

// IsInteractive reports whether w is a terminal suitable for live output.
func IsInteractive(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false
	}
	return os.Getenv("NO_COLOR") == "" && !strings.EqualFold(os.Getenv("TERM"), "dumb")
}

// Handler returns a ProgressFunc feeding r.
func (r *Renderer) Handler() assetfetch.ProgressFunc {
	return r.apply
}

// Close finishes any bar still running.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishBar()
}

func (r *Renderer) apply(ev assetfetch.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Event {
	case "set_start":
		r.files = ev.Count
		r.start = time.Now()
		r.title.Fprintf(r.out, "Asset set %s (%d files)\n", ev.Set, ev.Count)
	case "file_skip":
		r.skipped++
		r.skip.Fprintf(r.out, "%s %s ", position(ev), "skip")
		fmt.Fprintf(r.out, "%s %s\n", ev.Path, r.faint.Sprint(strings.TrimPrefix(ev.Message, "skip ")))
	case "file_start":
		r.finishBar()
		label := fmt.Sprintf("%s %s", position(ev), filepath.Base(ev.Path))
		if ev.Attempt > 1 {
			label += fmt.Sprintf(" (attempt %d)", ev.Attempt)
		}
		if r.interactive {
			r.bar = pb.New64(ev.Total)
			r.bar.SetTemplateString(barTemplate)
			r.bar.Set(pb.Bytes, true)
			r.bar.Set("prefix", label)
			r.bar.SetWriter(r.out)
			r.bar.Start()
			return
		}
		size := "unknown size"
		if ev.Total > 0 {
			size = humanize.IBytes(uint64(ev.Total))
		}
		fmt.Fprintf(r.out, "%s downloading %s (%s)\n", label, ev.Path, size)
	case "file_progress":
		if r.bar != nil {
			r.bar.SetCurrent(ev.Downloaded)
			return
		}
		if !r.interactive {
			fmt.Fprintf(r.out, "  %s %s\n", filepath.Base(ev.Path), progressText(ev.Downloaded, ev.Total))
		}
	case "attempt_failed":
		r.finishBar()
		r.warn.Fprintf(r.out, "%s attempt %d failed (%s): %s\n", position(ev), ev.Attempt, ev.Kind, ev.Message)
	case "retry":
		r.faint.Fprintf(r.out, "%s retrying %s\n", position(ev), ev.Path)
	case "file_done":
		if r.bar != nil {
			r.bar.SetCurrent(ev.Downloaded)
		}
		r.finishBar()
		r.fetched++
		r.downloaded += ev.Downloaded
		r.ok.Fprintf(r.out, "%s done ", position(ev))
		fmt.Fprintf(r.out, "%s (%s)\n", ev.Path, humanize.IBytes(uint64(ev.Downloaded)))
	case "error":
		r.finishBar()
		r.fail.Fprintf(r.out, "error: %s\n", ev.Message)
	case "done":
		r.finishBar()
		r.ok.Fprintln(r.out, ev.Message)
		fmt.Fprintln(r.out, r.faint.Sprintf("%d downloaded (%s), %d already present, %s",
			r.fetched, humanize.IBytes(uint64(r.downloaded)), r.skipped, time.Since(r.start).Round(time.Second)))
	}
}

func (r *Renderer) finishBar() {
	if r.bar == nil {
		return
	}
	r.bar.Finish()
	r.bar = nil
}

// position formats "[i/n]" with a 1-based index.
func position(ev assetfetch.ProgressEvent) string {
	if ev.Count == 0 || ev.Index < 0 {
		return "[-]"
	}
	return fmt.Sprintf("[%d/%d]", ev.Index+1, ev.Count)
}

func progressText(done, total int64) string {
	if total <= 0 {
		return humanize.IBytes(uint64(done))
	}
	pct := float64(done) * 100 / float64(total)
	return fmt.Sprintf("%s / %s (%.0f%%)", humanize.IBytes(uint64(done)), humanize.IBytes(uint64(total)), pct)
}
