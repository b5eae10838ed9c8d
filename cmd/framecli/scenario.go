package main

import (
	"context"
	"fmt"
	"io"
	"time"

	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
	"github.com/mantonx/framecache/internal/modules/framemodule/service"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

type scenario struct {
	Request     service.IndexRequest
	Surface     string
	Frames      int
	SeekMode    types.SeekMode
	PixelFormat types.PixelFormat
}

type pass struct {
	Shown    int
	Skipped  int
	Duration time.Duration
}

type report struct {
	Track     int
	Index     time.Duration
	FromCache bool
	Records   time.Duration
	Forward   pass
	Backward  pass
	Failures  map[ferrors.Kind]int
}

// run indexes, picks the first video track and walks its frames forward then
// backward. Recoverable failures are counted and skipped; anything else ends
// the run.
func run(ctx context.Context, frames service.FrameService, opts scenario, out io.Writer) (*report, error) {
	rep := &report{Failures: make(map[ferrors.Kind]int)}

	cancel := frames.OnProgress(func(p types.Progress) {
		if p.Total > 0 {
			fmt.Fprintf(out, "\rindexing %3d%%", p.Current*100/p.Total)
			if p.Done() {
				fmt.Fprintln(out)
			}
		}
	})
	defer cancel()

	start := time.Now()
	if err := frames.Index(ctx, opts.Request); err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", opts.Request.File, err)
	}
	rep.Index = time.Since(start)

	if status, err := frames.Status(); err == nil {
		rep.FromCache = status.FromCache
	}

	tracks, err := frames.ListTracks()
	if err != nil {
		return nil, err
	}
	rep.Track = -1
	for _, t := range tracks {
		if t.Type == types.TrackTypeVideo {
			rep.Track = t.TrackNumber
			break
		}
	}
	if rep.Track < 0 {
		return nil, fmt.Errorf("%s has no video track", opts.Request.File)
	}

	if err := frames.SetSeekHandling(opts.SeekMode); err != nil {
		return nil, err
	}
	if err := frames.SetFrameOutputFormat(types.OutputFormatRequest{PixelFormat: opts.PixelFormat}); err != nil {
		return nil, err
	}

	start = time.Now()
	records, err := frames.GetFrames(ctx, rep.Track)
	if err != nil {
		return nil, err
	}
	rep.Records = time.Since(start)

	n := len(records)
	if opts.Frames > 0 && opts.Frames < n {
		n = opts.Frames
	}

	visit := func(p *pass, i int) error {
		var err error
		if opts.Surface != "" {
			_, err = frames.DisplayFrame(ctx, records[i], opts.Surface)
		} else {
			_, err = frames.GetFrame(ctx, rep.Track, records[i].FrameNumber)
		}
		if err == nil {
			p.Shown++
			return nil
		}
		if !ferrors.IsRecoverable(err) {
			return err
		}
		p.Skipped++
		rep.Failures[ferrors.GetKind(err)]++
		return nil
	}

	start = time.Now()
	for i := 0; i < n; i++ {
		if err := visit(&rep.Forward, i); err != nil {
			return rep, fmt.Errorf("forward pass stopped at frame %d: %w", i, err)
		}
	}
	rep.Forward.Duration = time.Since(start)

	start = time.Now()
	for i := n - 1; i >= 0; i-- {
		if err := visit(&rep.Backward, i); err != nil {
			return rep, fmt.Errorf("backward pass stopped at frame %d: %w", i, err)
		}
	}
	rep.Backward.Duration = time.Since(start)

	return rep, nil
}

func (r *report) print(w io.Writer) {
	fmt.Fprintf(w, "track:    %d\n", r.Track)
	fmt.Fprintf(w, "index:    %s (from cache: %v)\n", r.Index.Round(time.Millisecond), r.FromCache)
	fmt.Fprintf(w, "records:  %s\n", r.Records.Round(time.Microsecond))
	for _, p := range []struct {
		name string
		pass pass
	}{{"forward", r.Forward}, {"backward", r.Backward}} {
		fps := 0.0
		if p.pass.Duration > 0 {
			fps = float64(p.pass.Shown) / p.pass.Duration.Seconds()
		}
		fmt.Fprintf(w, "%-9s %d shown, %d skipped in %s (%.1f fps)\n",
			p.name+":", p.pass.Shown, p.pass.Skipped, p.pass.Duration.Round(time.Millisecond), fps)
	}
	for kind, count := range r.Failures {
		fmt.Fprintf(w, "  %s: %d\n", kind, count)
	}
}
