// Package tunnel provides an SSH local-forward tunnel for reaching
// warehouses that only expose their port inside a private network. It is a
// connection-bootstrap collaborator: callers open the tunnel, point the
// database DSN at the local address, and close the tunnel when done.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

type Config struct {
	Logger *slog.Logger

	// Addr is the SSH bastion address (host:port).
	Addr string
	User string

	// Password and PrivateKeyPath are alternative authentication methods;
	// at least one is required.
	Password       string
	PrivateKeyPath string

	// RemoteAddr is the warehouse address as seen from the bastion.
	RemoteAddr string

	// LocalAddr is the listen address; ":0" picks a free port.
	LocalAddr string

	DialTimeout time.Duration

	// HostKeyCallback defaults to accepting any host key, which matches
	// how the loading jobs have historically reached their bastions.
	// Production deployments should pin the bastion key.
	HostKeyCallback ssh.HostKeyCallback
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Addr == "" {
		return errors.New("ssh address is required")
	}
	if cfg.User == "" {
		return errors.New("ssh user is required")
	}
	if cfg.Password == "" && cfg.PrivateKeyPath == "" {
		return errors.New("either a password or a private key path is required")
	}
	if cfg.RemoteAddr == "" {
		return errors.New("remote address is required")
	}
	if cfg.LocalAddr == "" {
		cfg.LocalAddr = "127.0.0.1:0"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec
	}
	return nil
}

// Tunnel forwards connections from a local listener to the remote
// warehouse address through an SSH bastion.
type Tunnel struct {
	log *slog.Logger
	cfg Config

	mu       sync.Mutex
	client   *ssh.Client
	listener net.Listener
	closed   bool
}

func New(cfg Config) (*Tunnel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tunnel{log: cfg.Logger, cfg: cfg}, nil
}

// Open dials the bastion, starts the local listener and begins forwarding.
// It returns the local address to point the database DSN at.
func (t *Tunnel) Open(ctx context.Context) (string, error) {
	auth, err := t.authMethods()
	if err != nil {
		return "", err
	}

	clientCfg := &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            auth,
		HostKeyCallback: t.cfg.HostKeyCallback,
		Timeout:         t.cfg.DialTimeout,
	}
	client, err := ssh.Dial("tcp", t.cfg.Addr, clientCfg)
	if err != nil {
		return "", fmt.Errorf("failed to dial ssh bastion %s: %w", t.cfg.Addr, err)
	}

	listener, err := net.Listen("tcp", t.cfg.LocalAddr)
	if err != nil {
		_ = client.Close()
		return "", fmt.Errorf("failed to listen on %s: %w", t.cfg.LocalAddr, err)
	}

	t.mu.Lock()
	t.client = client
	t.listener = listener
	t.mu.Unlock()

	go t.accept(ctx)

	addr := listener.Addr().String()
	t.log.Info("tunnel: open", "local", addr, "bastion", t.cfg.Addr, "remote", t.cfg.RemoteAddr)
	return addr, nil
}

// Close stops the listener and tears down the SSH connection.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	if t.listener != nil {
		if err := t.listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.client != nil {
		if err := t.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.log.Info("tunnel: closed", "bastion", t.cfg.Addr)
	return errors.Join(errs...)
}

func (t *Tunnel) accept(ctx context.Context) {
	for {
		local, err := t.listener.Accept()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed || ctx.Err() != nil {
				return
			}
			t.log.Warn("tunnel: accept failed", "error", err)
			return
		}
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer func() { _ = local.Close() }()

	remote, err := t.client.Dial("tcp", t.cfg.RemoteAddr)
	if err != nil {
		t.log.Warn("tunnel: remote dial failed", "remote", t.cfg.RemoteAddr, "error", err)
		return
	}
	defer func() { _ = remote.Close() }()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

func (t *Tunnel) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if t.cfg.PrivateKeyPath != "" {
		key, err := os.ReadFile(t.cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key %s: %w", t.cfg.PrivateKeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", t.cfg.PrivateKeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if t.cfg.Password != "" {
		methods = append(methods, ssh.Password(t.cfg.Password))
	}
	return methods, nil
}
