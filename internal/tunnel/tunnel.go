// Package tunnel forwards a local TCP port to a host reachable from an SSH
// server, the way `ssh -L` does.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/errgroup"
)

const dialTimeout = 15 * time.Second

type Config struct {
	Host       string
	Port       int
	User       string
	KeyPath    string
	KnownHosts string // empty disables host key verification
	// Remote is the address to reach, as seen from the SSH server.
	Remote string
}

// Tunnel is an open forward. Connections accepted on Addr are relayed to
// Config.Remote through the SSH client until Close is called.
type Tunnel struct {
	listener net.Listener
	client   *ssh.Client
	remote   string
	logger   *slog.Logger
	group    errgroup.Group
}

// Open connects to the SSH server and starts listening on an ephemeral
// loopback port.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Tunnel, error) {
	clientCfg, err := clientConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tunnel: dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("tunnel: handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("tunnel: listen: %w", err)
	}

	t := &Tunnel{
		listener: listener,
		client:   client,
		remote:   cfg.Remote,
		logger:   logger,
	}
	t.group.Go(t.serve)

	logger.Debug("tunnel: open", "ssh", addr, "local", t.Addr(), "remote", cfg.Remote)
	return t, nil
}

// Addr is the local host:port to connect to.
func (t *Tunnel) Addr() string {
	return t.listener.Addr().String()
}

// Close stops accepting, tears down the SSH connection and waits for every
// relay to finish.
func (t *Tunnel) Close() error {
	lerr := t.listener.Close()
	cerr := t.client.Close()
	t.group.Wait()
	t.logger.Debug("tunnel: closed", "local", t.Addr())

	if lerr != nil && !errors.Is(lerr, net.ErrClosed) {
		return fmt.Errorf("tunnel: close listener: %w", lerr)
	}
	if cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		return fmt.Errorf("tunnel: close ssh client: %w", cerr)
	}
	return nil
}

func (t *Tunnel) serve() error {
	for {
		local, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.logger.Warn("tunnel: accept failed", "err", err)
			return err
		}
		t.group.Go(func() error {
			t.relay(local)
			return nil
		})
	}
}

// relay copies in both directions until either side closes.
func (t *Tunnel) relay(local net.Conn) {
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.logger.Warn("tunnel: dial remote failed", "remote", t.remote, "err", err)
		return
	}
	defer remote.Close()

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(remote, local)
		remote.Close()
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(local, remote)
		local.Close()
		return err
	})
	if err := g.Wait(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
		t.logger.Debug("tunnel: relay ended", "err", err)
	}
}

func clientConfig(cfg Config, logger *slog.Logger) (*ssh.ClientConfig, error) {
	if cfg.KeyPath == "" {
		return nil, errors.New("tunnel: SSH_KEY is required when SSH_HOST is set")
	}
	pem, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("tunnel: read key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("tunnel: parse key %s: %w", cfg.KeyPath, err)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		if hostKey, err = knownhosts.New(cfg.KnownHosts); err != nil {
			return nil, fmt.Errorf("tunnel: load known hosts: %w", err)
		}
	} else {
		logger.Warn("tunnel: host key verification disabled; set SSH_KNOWN_HOSTS to enable it")
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         dialTimeout,
	}, nil
}
