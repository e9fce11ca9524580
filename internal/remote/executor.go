package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Outcome is the result of running the bootstrap on the provisioned host.
type Outcome struct {
	ExitStatus int
	Log        string
	Verified   bool
}

// RemoteConnectError means no session could be established within the
// connect ceiling. Transient by nature, but once the ceiling is exceeded the
// executor stops rather than looping.
type RemoteConnectError struct {
	Host     string
	Attempts int
	Err      error
}

func (e *RemoteConnectError) Error() string {
	return fmt.Sprintf("could not reach %s after %d attempts: %v", e.Host, e.Attempts, e.Err)
}

func (e *RemoteConnectError) Unwrap() error { return e.Err }

const logCapBytes = 256 * 1024

// Executor runs the bootstrap script on a freshly provisioned host over SSH.
// It tolerates the host not being reachable immediately: cloud instances
// take time to boot sshd.
type Executor struct {
	user           string
	connectCeiling time.Duration
	out            io.Writer
	dial           DialFunc
	debug          bool
}

// NewExecutor creates an Executor streaming remote output to out.
// connectCeiling bounds the total time spent trying to establish a session.
func NewExecutor(user string, connectCeiling time.Duration, out io.Writer, debug bool) *Executor {
	if out == nil {
		out = io.Discard
	}
	if connectCeiling <= 0 {
		connectCeiling = 3 * time.Minute
	}
	var d net.Dialer
	return &Executor{
		user:           user,
		connectCeiling: connectCeiling,
		out:            out,
		dial:           d.DialContext,
		debug:          debug,
	}
}

// Run uploads the application archive and bootstrap script to host, executes
// the script streaming its output, and probes verifyPort afterwards.
// A non-zero remote exit lands in Outcome.ExitStatus — it is a deploy
// failure, not a connection error, and is never retried here.
func (e *Executor) Run(ctx context.Context, host, keyPath, script string, archive []byte, archiveRemotePath string, verifyPort int) (*Outcome, error) {
	client, err := newSSHClient(host, 22, e.user, keyPath, e.debug)
	if err != nil {
		return nil, err
	}

	if err := e.connectWithRetry(ctx, client, host); err != nil {
		return nil, err
	}
	defer client.close()

	if err := client.upload(ctx, archive, archiveRemotePath, "0644"); err != nil {
		return nil, err
	}
	if err := client.upload(ctx, []byte(script), "/tmp/bootstrap.sh", "0755"); err != nil {
		return nil, err
	}

	logBuf := newCappedBuffer(logCapBytes)
	stream := io.MultiWriter(e.out, logBuf)

	exit, err := client.run(ctx, "bash /tmp/bootstrap.sh", stream)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{ExitStatus: exit, Log: logBuf.String()}
	if exit == 0 && verifyPort > 0 {
		outcome.Verified = e.verifyPort(ctx, host, verifyPort)
	}
	return outcome, nil
}

// connectWithRetry retries the connection with exponential backoff until the
// ceiling elapses. At least two retries fit inside any sane ceiling because
// the initial interval is short.
func (e *Executor) connectWithRetry(ctx context.Context, client *sshClient, host string) error {
	attempts := 0
	op := func() error {
		attempts++
		err := client.connect(ctx, e.dial)
		if err != nil && e.debug {
			fmt.Fprintf(os.Stderr, "[ssh] connect attempt %d failed: %v\n", attempts, err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = e.connectCeiling

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return &RemoteConnectError{Host: host, Attempts: attempts, Err: err}
	}
	return nil
}

// verifyPort probes the first exposed app port so the outcome records whether
// the service actually came up.
func (e *Executor) verifyPort(ctx context.Context, host string, port int) bool {
	addr := fmt.Sprintf("%s:%d", host, port)
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		conn, err := e.dial(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(3 * time.Second)
	}
	return false
}

// cappedBuffer keeps the first n bytes and discards the rest, so a long
// build log cannot balloon the captured outcome.
type cappedBuffer struct {
	limit     int
	buf       []byte
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - len(b.buf); remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + "\n... (truncated)"
	}
	return string(b.buf)
}
