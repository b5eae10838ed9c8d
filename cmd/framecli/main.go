// Command framecli drives a frame server end to end: it launches the server
// as a plugin, indexes a file, then walks the first video track forward and
// backward, displaying every frame and printing timings.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/modules/framemodule/remote"
	"github.com/mantonx/framecache/internal/modules/framemodule/service"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

func main() {
	serverPath := flag.String("server", "frameserver", "path to the frameserver executable")
	file := flag.String("file", "", "media file to index (required)")
	surface := flag.String("surface", "", "display surface id; empty only fetches records")
	count := flag.Int("frames", 0, "number of frames to walk; 0 walks the whole track")
	seek := flag.String("seek", string(types.SeekUnsafe), "seek mode")
	format := flag.String("format", string(types.PixelFormatYV12), "output pixel format")
	noCache := flag.Bool("no-cache", false, "ignore an existing index cache")
	codecHint := flag.String("codec", "", "decoder to force")
	verbose := flag.Bool("v", false, "show server logs")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := hclog.Warn
	if *verbose {
		level = hclog.Debug
	}
	log := hclog.New(&hclog.LoggerOptions{
		Name:   "framecli",
		Level:  level,
		Output: os.Stderr,
	})

	client, frames, err := remote.Launch(*serverPath, []string{"-http=" + fmt.Sprint(*surface != "")}, 30*time.Second, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "framecli: %v\n", err)
		os.Exit(1)
	}
	defer client.Kill()

	opts := scenario{
		Request: service.IndexRequest{
			File:      *file,
			UseCached: !*noCache,
			CodecHint: *codecHint,
		},
		Surface:     *surface,
		Frames:      *count,
		SeekMode:    types.SeekMode(*seek),
		PixelFormat: types.PixelFormat(*format),
	}

	rep, err := run(context.Background(), frames, opts, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "framecli: %v\n", err)
		os.Exit(1)
	}
	rep.print(os.Stdout)
}
