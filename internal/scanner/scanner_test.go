package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubReturnsCannedResultPerTarget(t *testing.T) {
	stub := &Stub{
		ScannerName: "subfinder",
		Results: map[string]*Result{
			"acme.test": {
				Status: StatusCompleted,
				Assets: []AssetArtifact{{Type: "subdomain", Value: "app.acme.test", Normalized: "app.acme.test"}},
			},
		},
		Fallback: &Result{Status: StatusFailed, Error: "no data"},
	}

	res, err := stub.Run(context.Background(), "acme.test", Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "subfinder", res.Scanner)
	assert.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.Assets, 1)

	res, err = stub.Run(context.Background(), "other.test", Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "no data", res.Error)

	assert.Equal(t, []string{"acme.test", "other.test"}, stub.Calls)
}

func TestStubDefaultsToEmptyCompleted(t *testing.T) {
	stub := &Stub{ScannerName: "httpx"}

	res, err := stub.Run(context.Background(), "https://acme.test", Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, res.Assets)
	assert.False(t, res.StartedAt.IsZero())
}

func TestStubErr(t *testing.T) {
	boom := errors.New("boom")
	stub := &Stub{ScannerName: "nmap", Err: boom}

	_, err := stub.Run(context.Background(), "192.0.2.1", Config{}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestStubStreamsRawOutput(t *testing.T) {
	stub := &Stub{
		ScannerName: "nuclei",
		Fallback:    &Result{RawOutput: "one line"},
	}

	var streamed []string
	_, err := stub.Run(context.Background(), "https://acme.test", Config{}, func(line string) {
		streamed = append(streamed, line)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one line"}, streamed)
}

func TestRegistry(t *testing.T) {
	reg := Registry{}
	stub := &Stub{ScannerName: "subfinder"}
	reg.Register(stub)

	assert.Same(t, Scanner(stub), reg.Get("subfinder"))
	assert.Nil(t, reg.Get("nmap"))
}

func TestRunnerExecCapturesStdout(t *testing.T) {
	r := &Runner{DefaultTimeout: 5 * time.Second}

	var streamed []string
	res, err := r.Exec(context.Background(), func(line string) {
		streamed = append(streamed, line)
	}, 0, "sh", "-c", "echo first; echo; echo second")
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "first\nsecond", res.Stdout)
	assert.Equal(t, []string{"first", "second"}, streamed)
}

func TestRunnerExecReportsExitCode(t *testing.T) {
	r := &Runner{DefaultTimeout: 5 * time.Second}

	res, err := r.Exec(context.Background(), nil, 0, "sh", "-c", "echo oops >&2; exit 3")
	require.NoError(t, err)

	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "oops")
}

func TestRunnerExecTimeout(t *testing.T) {
	r := &Runner{}

	_, err := r.Exec(context.Background(), nil, 100*time.Millisecond, "sleep", "5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
