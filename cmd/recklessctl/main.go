// Command recklessctl is a small diagnostic tool for probing a
// reckless input ring's real usable capacity and backpressure
// behaviour, grounded on the teacher's cmd/debug-capacity: that tool
// created a shared-memory ring directly and pushed writes of
// increasing size through it to map out where WriteBlocking started
// failing. recklessctl does the same thing against a producer's input
// ring, except "blocked" takes the place of "failed" — this ring
// never returns an error for a record that merely doesn't fit yet, it
// blocks the caller until the consumer has drained enough to make
// room (spec.md §4.3).
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vermosen/reckless"
	"github.com/vermosen/reckless/output"
)

// stdoutWriter adapts os.Stdout to output.Writer for this tool only;
// the real sink implementation with errno classification lives in
// sinks/file.
type stdoutWriter struct{}

func (stdoutWriter) Write(p []byte) (output.Result, error) {
	if _, err := os.Stdout.Write(p); err != nil {
		return output.ErrorGiveUp, err
	}
	return output.Success, nil
}

func main() {
	ringSize := flag.Uint64("ring-size", 64*1024, "producer input ring capacity in bytes")
	alignment := flag.Uint64("alignment", 16, "frame alignment in bytes")
	blockThreshold := flag.Duration("block-threshold", 50*time.Millisecond, "a Log call slower than this is reported as blocked on the ring")
	backpressureChunks := flag.Int("backpressure-chunks", 200, "number of fixed-size records to push in the backpressure test")
	flag.Parse()

	logger, err := reckless.Initialize(stdoutWriter{},
		reckless.WithTLSInputBufferSize(*ringSize),
		reckless.WithFrameAlignment(*alignment),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recklessctl: initialize: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	p := logger.NewProducer()
	st := p.DebugState()

	fmt.Printf("=== Ring Capacity Analysis ===\n")
	fmt.Printf("Configured capacity: %d bytes\n", *ringSize)
	fmt.Printf("Frame alignment: %d bytes\n", *alignment)
	fmt.Printf("Ring capacity (DebugState): %d bytes\n", st.Capacity)

	fmt.Printf("\n=== Single Record Tests ===\n")
	testSizes := []int{8, 16, 32, 64, 128, 256, 512, 1024, 4096}
	for _, size := range testSizes {
		payload := strings.Repeat("x", size)
		start := time.Now()
		logErr := p.Log("%s", payload)
		elapsed := time.Since(start)
		switch {
		case logErr != nil:
			fmt.Printf("record %6d bytes: REJECTED (%v)\n", size, logErr)
		case elapsed > *blockThreshold:
			fmt.Printf("record %6d bytes: OK, blocked %s waiting for room\n", size, elapsed)
		default:
			fmt.Printf("record %6d bytes: OK (%s)\n", size, elapsed)
		}
	}

	fmt.Printf("\n=== Backpressure Test ===\n")
	fmt.Printf("pushing %d chunks without syncing, watching for blocking sends\n", *backpressureChunks)
	chunk := strings.Repeat("c", 256)
	for i := 0; i < *backpressureChunks; i++ {
		start := time.Now()
		if err := p.Log("%s", chunk); err != nil {
			fmt.Printf("chunk %d: REJECTED (%v)\n", i, err)
			break
		}
		if elapsed := time.Since(start); elapsed > *blockThreshold {
			fmt.Printf("chunk %d: blocked %s (ring full, waiting on consumer)\n", i, elapsed)
		}
	}

	fmt.Printf("\n=== Queue Diagnostics ===\n")
	fmt.Printf("handoff queue depth: %d\n", logger.QueueDepth())

	p.Detach()
}
