// Command replay scores a recorded observation file offline and writes the
// session exports, or streams the file to a running reading server.
//
// Usage:
//
//	go run ./cmd/tools/replay -in run.jsonl [flags]
//
// Flags:
//
//	-in        Observation file (.jsonl or .csv), required
//	-config    Tuning JSON file (defaults apply when empty)
//	-out       Output directory (default: current directory)
//	-formats   Comma separated outputs: json,csv,png,html (default: json,csv)
//	-step      Spacing assigned to observations without a timestamp (default: 1s)
//	-strict    Abort on the first rejected observation
//	-post      Base URL of a reading server; stream instead of scoring locally
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/reading.report/internal/config"
	"github.com/banshee-data/reading.report/internal/export"
	"github.com/banshee-data/reading.report/internal/httputil"
	"github.com/banshee-data/reading.report/internal/ingest"
	"github.com/banshee-data/reading.report/internal/monitor"
	"github.com/banshee-data/reading.report/internal/report"
	"github.com/banshee-data/reading.report/internal/scoring"
	"github.com/banshee-data/reading.report/internal/security"
	"github.com/banshee-data/reading.report/internal/session"
	"github.com/banshee-data/reading.report/internal/timeutil"
	"github.com/banshee-data/reading.report/internal/version"
)

type options struct {
	in         string
	configPath string
	outDir     string
	formats    []string
	step       time.Duration
	strict     bool
	postURL    string
}

var validFormats = map[string]bool{"json": true, "csv": true, "png": true, "html": true}

func parseFormats(s string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		if !validFormats[f] {
			return nil, fmt.Errorf("unknown output format %q", f)
		}
		seen[f] = true
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no output formats given")
	}
	return out, nil
}

func readObservations(path string) ([]scoring.Observation, error) {
	format, err := ingest.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := ingest.NewDecoder(f, format)
	if err != nil {
		return nil, err
	}
	return ingest.ReadAll(dec)
}

// score runs obs through a monitor driven by a mock clock that follows the
// recorded timestamps, so the session spans the recording rather than the
// wall time of the replay.
func score(cfg scoring.Config, obs []scoring.Observation, step time.Duration, strict bool, md map[string]string) (*session.Session, int, error) {
	start := time.Now().UTC()
	for _, o := range obs {
		if !o.Timestamp.IsZero() {
			start = o.Timestamp
			break
		}
	}
	clock := timeutil.NewMockClock(start)
	m, err := monitor.New(cfg, monitor.WithClock(clock), monitor.WithMetadata(md))
	if err != nil {
		return nil, 0, err
	}
	if _, err := m.Start(nil); err != nil {
		return nil, 0, err
	}

	rejected := 0
	for i, o := range obs {
		if o.Timestamp.IsZero() {
			if i > 0 {
				clock.Advance(step)
			}
		} else if o.Timestamp.After(clock.Now()) {
			clock.Set(o.Timestamp)
		}
		if _, err := m.Process(o); err != nil {
			if strict {
				_, _ = m.Stop()
				return nil, rejected, fmt.Errorf("observation %d: %w", i+1, err)
			}
			rejected++
			log.Printf("observation %d skipped: %v", i+1, err)
		}
	}
	s, err := m.Stop()
	return s, rejected, err
}

func writeOutputs(s *session.Session, outDir string, formats []string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	base := strings.TrimSuffix(export.Filename(s, export.FormatJSON), ".json")

	var written []string
	for _, f := range formats {
		var path string
		switch f {
		case "json", "csv":
			path = filepath.Join(outDir, export.Filename(s, export.Format(f)))
		case "png":
			path = filepath.Join(outDir, base+"_timeline.png")
		case "html":
			path = filepath.Join(outDir, base+"_timeline.html")
		}
		if err := security.ValidatePathWithinDirectory(path, outDir); err != nil {
			return written, err
		}

		var err error
		switch f {
		case "json", "csv":
			var data []byte
			if data, err = export.Session(s, export.Format(f)); err == nil {
				err = os.WriteFile(path, data, 0o644)
			}
		case "png":
			err = report.SaveTimelinePNG(path, s)
		case "html":
			err = writeFile(path, func(w io.Writer) error { return report.RenderTimeline(w, s) })
		}
		if err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// stream replays obs against a running server.
func stream(c *httputil.JSONClient, obs []scoring.Observation, md map[string]string, strict bool) (session.Summary, int, error) {
	var sum session.Summary
	var started struct {
		SessionID string `json:"session_id"`
	}
	if err := c.Post("/api/sessions/start", map[string]interface{}{"metadata": md}, &started); err != nil {
		return sum, 0, fmt.Errorf("start session: %w", err)
	}
	log.Printf("streaming %d observations into session %s", len(obs), started.SessionID)

	rejected := 0
	for i, o := range obs {
		err := c.Post("/api/observations", o, nil)
		var se *httputil.StatusError
		if errors.As(err, &se) && !strict {
			rejected++
			log.Printf("observation %d rejected: %s", i+1, se.Message)
			continue
		}
		if err != nil {
			_ = c.Post("/api/sessions/stop", nil, nil)
			return sum, rejected, fmt.Errorf("observation %d: %w", i+1, err)
		}
	}
	if err := c.Post("/api/sessions/stop", nil, &sum); err != nil {
		return sum, rejected, fmt.Errorf("stop session: %w", err)
	}
	return sum, rejected, nil
}

func run(opts options) error {
	obs, err := readObservations(opts.in)
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.in, err)
	}
	md := version.Metadata()
	md["source"] = filepath.Base(opts.in)

	if opts.postURL != "" {
		sum, rejected, err := stream(httputil.NewJSONClient(opts.postURL, nil), obs, md, opts.strict)
		if err != nil {
			return err
		}
		log.Printf("session %s: %d results, %d rejected, mean %.3f, max %.3f",
			sum.SessionID, sum.Total, rejected, sum.MeanScore, sum.MaxScore)
		return nil
	}

	cfg := scoring.DefaultConfig()
	if opts.configPath != "" {
		tc, err := config.LoadTuningConfig(opts.configPath)
		if err != nil {
			return err
		}
		if cfg, err = tc.ScorerConfig(); err != nil {
			return err
		}
	}

	s, rejected, err := score(cfg, obs, opts.step, opts.strict, md)
	if err != nil {
		return err
	}
	sum := s.Summary()
	log.Printf("session %s: %d results, %d rejected, mean %.3f, max %.3f, dominant %s",
		s.ID, sum.Total, rejected, sum.MeanScore, sum.MaxScore, sum.DominantBand.Label())

	written, err := writeOutputs(s, opts.outDir, opts.formats)
	for _, p := range written {
		log.Printf("wrote %s", p)
	}
	return err
}

func main() {
	in := flag.String("in", "", "Observation file (.jsonl or .csv)")
	configPath := flag.String("config", "", "Tuning JSON file")
	outDir := flag.String("out", ".", "Output directory")
	formats := flag.String("formats", "json,csv", "Comma separated outputs: json,csv,png,html")
	step := flag.Duration("step", time.Second, "Spacing for observations without a timestamp")
	strict := flag.Bool("strict", false, "Abort on the first rejected observation")
	postURL := flag.String("post", "", "Stream to a reading server at this base URL instead of scoring locally")
	flag.Parse()

	if *in == "" {
		log.Fatal("Error: -in flag is required")
	}
	fs, err := parseFormats(*formats)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if err := run(options{
		in:         *in,
		configPath: *configPath,
		outDir:     *outDir,
		formats:    fs,
		step:       *step,
		strict:     *strict,
		postURL:    *postURL,
	}); err != nil {
		log.Fatalf("replay failed: %v", err)
	}
}
