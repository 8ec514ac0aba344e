package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/richinex/tsgpipe/failure"
	"github.com/richinex/tsgpipe/llm"
	"github.com/richinex/tsgpipe/orchestration"
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// Exit codes beyond the generic 1.
const (
	ExitBlocked   = 2
	ExitCancelled = 130
)

// RunOptions controls output of run and answer.
type RunOptions struct {
	Out  string // document destination; empty prints it
	JSON bool
}

// Run starts a pipeline over notes and follows it to the end.
func (a *App) Run(ctx context.Context, notes string, imagePaths []string, opts RunOptions, w io.Writer) error {
	images, err := LoadImages(imagePaths)
	if err != nil {
		return err
	}
	o, err := a.Orchestrator(ctx)
	if err != nil {
		return err
	}
	run, err := o.RunPipeline(ctx, notes, images)
	if err != nil {
		return err
	}
	return a.follow(ctx, o, run, opts, w)
}

// Answer continues an iteration with answers, or forces completion.
func (a *App) Answer(ctx context.Context, sessionID, answers string, skip bool, opts RunOptions, w io.Writer) error {
	o, err := a.Orchestrator(ctx)
	if err != nil {
		return err
	}
	run, err := o.SubmitAnswers(ctx, sessionID, answers, orchestration.SubmitAnswersOptions{Skip: skip})
	if err != nil {
		return err
	}
	return a.follow(ctx, o, run, opts, w)
}

// CheckPII scans text and reports a blocked verdict as ExitBlocked.
func (a *App) CheckPII(ctx context.Context, text string, asJSON bool, w io.Writer) error {
	res := a.Gate.Check(ctx, text)
	NewPrinter(w, asJSON, false).PII(res)
	if res.Blocked() {
		return &ExitError{Code: ExitBlocked, Err: failure.ErrPIIDetected}
	}
	return nil
}

// ListSessions prints stored sessions with their state.
func (a *App) ListSessions(ctx context.Context, w io.Writer) error {
	ids, err := a.Sessions.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return nil
	}
	for _, id := range ids {
		sess, err := a.Sessions.Get(ctx, id)
		if err != nil {
			continue // expired between List and Get
		}
		fmt.Fprintf(w, "%s  %-16s  %s\n", sess.ID, sess.State, sess.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

// ClearSession deletes a stored session.
func (a *App) ClearSession(ctx context.Context, id string) error {
	return a.Sessions.Delete(ctx, id)
}

// follow prints events until the run closes its feed. Cancelling ctx
// cancels the run; its cancelled event is still printed.
func (a *App) follow(ctx context.Context, o *orchestration.Orchestrator, run *orchestration.Run, opts RunOptions, w io.Writer) error {
	printer := NewPrinter(w, opts.JSON, a.Settings.Log.Verbose)
	done := ctx.Done()
	events := run.Events
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			printer.Event(ev)
		case <-done:
			if o.CancelRun(run.ID) {
				a.Logger.Info("run cancelled by signal", zap.String("run_id", run.ID))
			}
			done = nil
		}
	}

	res, err := run.Result()
	if errors.Is(err, failure.ErrCancelled) {
		return &ExitError{Code: ExitCancelled, Err: err}
	}
	if err != nil {
		return err
	}

	if err := writeDocument(res.Document, opts, w); err != nil {
		return err
	}
	printer.Result(res)
	return nil
}

func writeDocument(doc string, opts RunOptions, w io.Writer) error {
	if opts.Out != "" {
		if err := os.WriteFile(opts.Out, []byte(doc), 0o644); err != nil {
			return fmt.Errorf("failed to write document: %w", err)
		}
		if !opts.JSON {
			fmt.Fprintf(w, "\nDocument written to %s\n", opts.Out)
		}
		return nil
	}
	if opts.JSON {
		return nil // already in the result event
	}
	fmt.Fprintf(w, "\n%s\n", doc)
	return nil
}

// ReadInput reads the named file, or stdin when path is empty or "-".
func ReadInput(path string) (string, error) {
	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// LoadImages reads screenshots for the research stage. The media type comes
// from the extension, falling back to content sniffing.
func LoadImages(paths []string) ([]llm.Image, error) {
	images := make([]llm.Image, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		mediaType, ok := imageTypes[strings.ToLower(filepath.Ext(path))]
		if !ok {
			mediaType = http.DetectContentType(data)
		}
		if !strings.HasPrefix(mediaType, "image/") {
			return nil, fmt.Errorf("%s is not an image (%s)", path, mediaType)
		}
		images = append(images, llm.Image{MediaType: mediaType, Data: data})
	}
	return images, nil
}
