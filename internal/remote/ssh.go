package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
)

// DialFunc opens the TCP connection an SSH session rides on. Injectable for
// tests.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// sshClient wraps one authenticated connection to the provisioned host.
type sshClient struct {
	host   string
	port   int
	user   string
	signer ssh.Signer
	client *ssh.Client
	debug  bool
}

func newSSHClient(host string, port int, user, keyPath string, debug bool) (*sshClient, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if port == 0 {
		port = 22
	}
	return &sshClient{host: host, port: port, user: user, signer: signer, debug: debug}, nil
}

// connect establishes the SSH connection over a single dial attempt.
func (c *sshClient) connect(ctx context.Context, dial DialFunc) error {
	config := &ssh.ClientConfig{
		User: c.user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(c.signer),
		},
		// Hosts are freshly provisioned, there is no prior host key to pin.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	if c.debug {
		fmt.Fprintf(os.Stderr, "[ssh] connecting to %s@%s\n", c.user, addr)
	}

	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SSH connection: %w", err)
	}

	c.client = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

func (c *sshClient) close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// run executes a command, streaming stdout/stderr to out as it arrives.
// Returns the remote exit status; a non-zero exit is not an error here.
func (c *sshClient) run(ctx context.Context, command string, out io.Writer) (int, error) {
	if c.client == nil {
		return -1, fmt.Errorf("not connected")
	}

	session, err := c.client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	if c.debug {
		fmt.Fprintf(os.Stderr, "[ssh] running: %s\n", command)
	}

	session.Stdout = out
	session.Stderr = out

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		if status, ok := exitStatus(err); ok {
			return status, nil
		}
		return -1, fmt.Errorf("remote command failed: %w", err)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return -1, ctx.Err()
	}
}

// exitStatus extracts the remote exit status when err carries an
// ssh.ExitError, however deeply wrapped.
func exitStatus(err error) (int, bool) {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), true
	}
	return 0, false
}

// upload copies bytes to a remote path over an scp sink session.
func (c *sshClient) upload(ctx context.Context, data []byte, remotePath string, mode string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}

	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	if c.debug {
		fmt.Fprintf(os.Stderr, "[ssh] uploading %d bytes to %s\n", len(data), remotePath)
	}

	go func() {
		w, _ := session.StdinPipe()
		defer w.Close()
		_, _ = fmt.Fprintf(w, "C%s %d %s\n", mode, len(data), filepath.Base(remotePath))
		_, _ = w.Write(data)
		_, _ = fmt.Fprint(w, "\x00")
	}()

	dir := filepath.Dir(remotePath)
	if err := session.Run(fmt.Sprintf("scp -t %s", dir)); err != nil {
		return fmt.Errorf("upload to %s failed: %w", remotePath, err)
	}
	return nil
}
