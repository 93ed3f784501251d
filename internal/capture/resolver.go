package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrStreamOffline reports that the target has no playable live stream
// right now. Callers treat it as retryable.
var ErrStreamOffline = errors.New("stream offline")

// Resolver turns a target's page URL into a direct stream URL.
type Resolver interface {
	Resolve(ctx context.Context, pageURL, quality string) (string, error)
}

// StreamlinkResolver shells out to streamlink's --stream-url mode.
type StreamlinkResolver struct {
	binary  string
	timeout time.Duration
	exec    Executor
}

// ResolverOption configures a StreamlinkResolver.
type ResolverOption func(*StreamlinkResolver)

// WithResolverExecutor injects a custom executor (primarily for tests).
func WithResolverExecutor(exec Executor) ResolverOption {
	return func(r *StreamlinkResolver) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// NewStreamlinkResolver constructs a resolver around the given binary.
func NewStreamlinkResolver(binary string, timeoutSeconds int, opts ...ResolverOption) (*StreamlinkResolver, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("resolver binary required")
	}
	resolver := &StreamlinkResolver{
		binary:  binary,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(resolver)
	}
	return resolver, nil
}

// Resolve runs the resolver binary and returns the last URL it prints.
func (r *StreamlinkResolver) Resolve(ctx context.Context, pageURL, quality string) (string, error) {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return "", errors.New("page url required")
	}
	if quality = strings.TrimSpace(quality); quality == "" {
		quality = "best"
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var streamURL string
	err := r.exec.Run(runCtx, r.binary, []string{"--stream-url", pageURL, quality}, func(line string) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			streamURL = line
		}
	})
	if err != nil {
		// streamlink exits non-zero when the channel is not live.
		return "", fmt.Errorf("%w: resolve %s: %v", ErrStreamOffline, pageURL, err)
	}
	if streamURL == "" {
		return "", fmt.Errorf("%w: resolver printed no stream url for %s", ErrStreamOffline, pageURL)
	}
	return streamURL, nil
}

// PassthroughResolver returns the page URL unchanged. Used when the
// capture binary can ingest the target URL directly.
type PassthroughResolver struct{}

func (PassthroughResolver) Resolve(_ context.Context, pageURL, _ string) (string, error) {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return "", errors.New("page url required")
	}
	return pageURL, nil
}
