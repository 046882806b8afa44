package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	brokermemory "github.com/JakeFAU/realtime-crawl-pipeline/internal/broker/memory"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/config"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
)

// These tests swap package-level factories and therefore do not run in
// parallel.

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

type fakeRunner struct {
	err   error
	calls int
}

func (f *fakeRunner) Run(context.Context) error {
	f.calls++
	return f.err
}

func stubRunner(t *testing.T, r runner, buildErr error) {
	t.Helper()
	orig := newRunner
	newRunner = func(context.Context, *config.Config) (runner, error) {
		return r, buildErr
	}
	t.Cleanup(func() { newRunner = orig })
}

func TestRunCommandLoadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  workers: 7\n"), 0o600))

	var seen *config.Config
	fake := &fakeRunner{}
	orig := newRunner
	newRunner = func(_ context.Context, cfg *config.Config) (runner, error) {
		seen = cfg
		return fake, nil
	}
	t.Cleanup(func() { newRunner = orig })

	_, err := execute(t, "--config", path, "run")
	require.NoError(t, err)
	require.Equal(t, 1, fake.calls)
	require.NotNil(t, seen)
	require.Equal(t, 7, seen.Pipeline.Workers)
}

func TestRunCommandReportsFailures(t *testing.T) {
	stubRunner(t, &fakeRunner{err: errors.New("flush incomplete")}, nil)
	_, err := execute(t, "run")
	require.ErrorContains(t, err, "flush incomplete")

	stubRunner(t, nil, errors.New("no broker"))
	_, err = execute(t, "run")
	require.ErrorContains(t, err, "build application: no broker")
}

func TestRunCommandIgnoresCancellation(t *testing.T) {
	stubRunner(t, &fakeRunner{err: context.Canceled}, nil)
	_, err := execute(t, "run")
	require.NoError(t, err)
}

func TestRootRejectsMissingConfigFile(t *testing.T) {
	stubRunner(t, &fakeRunner{}, nil)
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "run")
	require.ErrorContains(t, err, "load config")
}

func stubFrontier(t *testing.T, b *brokermemory.Broker) *bool {
	t.Helper()
	closed := new(bool)
	orig := openFrontier
	openFrontier = func(context.Context, *config.Config, *zap.Logger) (crawler.FrontierPublisher, func(), error) {
		return b, func() { *closed = true }, nil
	}
	t.Cleanup(func() { openFrontier = orig })
	return closed
}

func TestSeedCommandPublishesURLs(t *testing.T) {
	b := brokermemory.New()
	closed := stubFrontier(t, b)

	out, err := execute(t, "seed", "https://example.com/a", "https://example.org/")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.org/"}, b.Frontier())
	require.Contains(t, out, "https://example.org/")
	require.True(t, *closed)
}

func TestSeedCommandValidatesBeforePublishing(t *testing.T) {
	b := brokermemory.New()
	stubFrontier(t, b)

	_, err := execute(t, "seed", "https://example.com/a", "ftp://example.com/b")
	require.ErrorIs(t, err, crawler.ErrMalformedLink)
	require.Empty(t, b.Frontier())
}

func TestSeedCommandRequiresPubSub(t *testing.T) {
	_, err := execute(t, "seed", "https://example.com/")
	require.ErrorContains(t, err, "seed requires broker.backend=pubsub")
}

func TestSeedCommandNeedsArgs(t *testing.T) {
	_, err := execute(t, "seed")
	require.Error(t, err)
}
