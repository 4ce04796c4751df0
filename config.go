// Package reckless is an asynchronous, structured logging core:
// producer goroutines format log entries into per-goroutine input
// ring buffers and hand off committed regions to a single consumer
// goroutine that serializes them to a Writer. See spec.md for the
// full design; this root package wires together internal/ring,
// internal/queue, internal/dispatch and output into the public
// Initialize/Log/Sync/Cleanup surface spec.md §6 names.
package reckless

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/vermosen/reckless/output"
)

// Config holds the tuning constants spec.md §6 names. Defaults match
// the spec; all five exported fields are overridable through LoadConfig
// via environment variables with the RECKLESS_ prefix
// (RECKLESS_TLS_INPUT_BUFFER_SIZE, etc.), mirroring
// hyp3rd/hyperlogger's configloader package.
type Config struct {
	// TLSInputBufferSize is the capacity, in bytes, of each producer's
	// thread-local input ring.
	TLSInputBufferSize uint64
	// FrameAlignment is the power-of-two byte alignment every frame in
	// an input ring is rounded up to.
	FrameAlignment uint64
	// MaxOutputBufferSize is the capacity, in bytes, of the single
	// process-wide output buffer.
	MaxOutputBufferSize int
	// ConsumerBackoffCap bounds the exponential back-off the consumer
	// uses while waiting on an empty shared queue.
	ConsumerBackoffCap time.Duration
	// HandoffQueueCapacity is the shared commit-extent queue's fixed
	// capacity (spec.md §3: "a small multiple of the expected producer
	// count").
	HandoffQueueCapacity int

	// diagLogger, retention and maxRetained are set only via Option
	// (WithLogger / WithRetentionPolicy); they have no environment or
	// default-config surface because they aren't spec.md tuning
	// constants, just ambient-stack and supplemented-feature knobs.
	diagLogger  zerolog.Logger
	retention   output.RetentionPolicy
	maxRetained int
}

// DefaultConfig returns spec.md §6's defaults: 32KiB input rings, 16-byte
// alignment, a 1MiB output buffer, and a 1s back-off cap.
func DefaultConfig() Config {
	return Config{
		TLSInputBufferSize:   32 * 1024,
		FrameAlignment:       16,
		MaxOutputBufferSize:  1024 * 1024,
		ConsumerBackoffCap:   time.Second,
		HandoffQueueCapacity: 64,
		diagLogger:           zerolog.Nop(),
		retention:            output.RetainAll,
	}
}

const envPrefix = "RECKLESS"

// LoadConfig starts from DefaultConfig and overlays any RECKLESS_*
// environment variables that are set, using viper the way
// hyp3rd/hyperlogger's configloader.FromEnv does.
func LoadConfig() Config {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	keys := []string{
		"tls_input_buffer_size",
		"frame_alignment",
		"max_output_buffer_size",
		"consumer_backoff_cap_ms",
		"handoff_queue_capacity",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if v.IsSet("tls_input_buffer_size") {
		cfg.TLSInputBufferSize = uint64(v.GetInt64("tls_input_buffer_size"))
	}
	if v.IsSet("frame_alignment") {
		cfg.FrameAlignment = uint64(v.GetInt64("frame_alignment"))
	}
	if v.IsSet("max_output_buffer_size") {
		cfg.MaxOutputBufferSize = v.GetInt("max_output_buffer_size")
	}
	if v.IsSet("consumer_backoff_cap_ms") {
		cfg.ConsumerBackoffCap = time.Duration(v.GetInt64("consumer_backoff_cap_ms")) * time.Millisecond
	}
	if v.IsSet("handoff_queue_capacity") {
		cfg.HandoffQueueCapacity = v.GetInt("handoff_queue_capacity")
	}
	return cfg
}
