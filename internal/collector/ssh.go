package collector

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how to reach a WireGuard host that cannot run the
// collector itself (routers, appliances).
type SSHConfig struct {
	Host       string // host or host:port; port defaults to 22
	User       string
	Password   string
	KeyPath    string
	KnownHosts string // empty disables host key verification
}

// SSHClient wraps an authenticated SSH connection.
type SSHClient struct {
	client *ssh.Client
	host   string
}

// NewSSHClient dials the target host with password and/or key authentication.
func NewSSHClient(cfg SSHConfig) (*SSHClient, error) {
	var authMethods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		keyPEM, err := os.ReadFile(expandHome(cfg.KeyPath))
		if err != nil && cfg.Password == "" {
			return nil, fmt.Errorf("reading SSH key: %w", err)
		}
		if err == nil {
			signer, err := ssh.ParsePrivateKey(keyPEM)
			if err != nil {
				return nil, fmt.Errorf("parsing SSH key: %w", err)
			}
			authMethods = append(authMethods, ssh.PublicKeys(signer))
		}
	}
	if cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH auth method configured for %s", cfg.Host)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(expandHome(cfg.KnownHosts))
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         15 * time.Second,
	}

	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	return &SSHClient{client: client, host: cfg.Host}, nil
}

// Close cleanly shuts down the SSH connection.
func (s *SSHClient) Close() error { return s.client.Close() }

// Run executes a command and returns its stdout. Stderr is returned in the
// error on failure.
func (s *SSHClient) Run(cmd string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	var stderr strings.Builder
	sess.Stderr = &stderr
	out, err := sess.Output(cmd)
	if err != nil {
		return "", fmt.Errorf("[ssh:%s] %q: %w: %s", s.host, cmd, err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// remoteRunner is the part of SSHClient a SSHSource needs.
type remoteRunner interface {
	Run(cmd string) (string, error)
	Close() error
}

// SSHSource runs the dump command on a remote host. The connection is kept
// open between dumps and re-dialed after a failure.
type SSHSource struct {
	cfg     SSHConfig
	command string
	dial    func(SSHConfig) (remoteRunner, error)

	mu     sync.Mutex
	client remoteRunner
}

// NewSSHSource returns a Source that connects lazily on first Dump.
func NewSSHSource(cfg SSHConfig, command string) *SSHSource {
	return &SSHSource{
		cfg:     cfg,
		command: command,
		dial: func(cfg SSHConfig) (remoteRunner, error) {
			return NewSSHClient(cfg)
		},
	}
}

func (s *SSHSource) connect() (remoteRunner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		c, err := s.dial(s.cfg)
		if err != nil {
			return nil, err
		}
		s.client = c
	}
	return s.client, nil
}

// Dump implements Source. ctx only bounds the wait; an in-flight SSH
// command is not interrupted.
func (s *SSHSource) Dump(ctx context.Context) (string, error) {
	client, err := s.connect()
	if err != nil {
		return "", err
	}

	type result struct {
		out string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := client.Run(s.command)
		ch <- result{out, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			s.drop(client)
		}
		return r.out, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// drop closes client if it is still the current connection.
func (s *SSHSource) drop(client remoteRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == client {
		_ = s.client.Close()
		s.client = nil
	}
}

// Close drops the SSH connection, if any.
func (s *SSHSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
