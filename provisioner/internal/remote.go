package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const (
	defaultSSHPort      = "22"
	defaultDialTimeout  = 10 * time.Second
	defaultDialAttempts = 8
)

// Remote runs non-interactive commands over SSH.
type Remote struct {
	DialTimeout  time.Duration
	DialAttempts int

	// HostKeyCallback defaults to ignoring host keys, nodes being ephemeral.
	HostKeyCallback ssh.HostKeyCallback
}

// Run executes command on the host named by login ("user@host[:port]" or "host")
// and returns its combined output. Authentication uses privateKey when set,
// the SSH agent otherwise.
func (r Remote) Run(ctx context.Context, login, privateKey, command string) (string, error) {
	username, addr, err := splitLogin(login)
	if err != nil {
		return "", err
	}

	auth, closeAuth, err := authMethod(privateKey)
	if err != nil {
		return "", err
	}
	defer closeAuth()

	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: r.HostKeyCallback,
		Timeout:         r.dialTimeout(),
	}
	if config.HostKeyCallback == nil {
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	attempts := r.DialAttempts
	if attempts <= 0 {
		attempts = defaultDialAttempts
	}

	client, err := RetryResultWithContext(ctx, attempts, func() (*ssh.Client, error) {
		return dial(ctx, addr, config)
	})
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s after %d attempts: %w", addr, attempts, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session on %s: %w", addr, err)
	}
	defer session.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
		case <-done:
		}
	}()

	output, err := session.CombinedOutput(command)
	if ctx.Err() != nil {
		return string(output), ctx.Err()
	}
	if err != nil {
		return string(output), fmt.Errorf("command failed on %s: %w", addr, err)
	}
	return string(output), nil
}

func (r Remote) dialTimeout() time.Duration {
	if r.DialTimeout > 0 {
		return r.DialTimeout
	}
	return defaultDialTimeout
}

func dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func splitLogin(login string) (string, string, error) {
	username, host, ok := strings.Cut(login, "@")
	if !ok {
		host = login
		current, err := user.Current()
		if err != nil {
			return "", "", fmt.Errorf("no user in login '%s' and no current user: %w", login, err)
		}
		username = current.Username
	}
	if host == "" || username == "" {
		return "", "", fmt.Errorf("invalid login '%s'", login)
	}

	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, defaultSSHPort)
	}
	return username, host, nil
}

func authMethod(privateKey string) (ssh.AuthMethod, func(), error) {
	if privateKey != "" {
		data, err := os.ReadFile(ExpandHome(privateKey))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		var missing *ssh.PassphraseMissingError
		if err == nil {
			return ssh.PublicKeys(signer), func() {}, nil
		} else if !errors.As(err, &missing) {
			return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
		}
	}

	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, nil, errors.New("no usable private key and no SSH agent")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reach SSH agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), func() { _ = conn.Close() }, nil
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
