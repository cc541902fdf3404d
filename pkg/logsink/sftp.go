package logsink

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPConfig describes a remote directory reachable over SSH.
type SFTPConfig struct {
	Host string
	Port int
	User string

	// Password enables password and keyboard-interactive authentication.
	Password string

	// KeyPath is a private key file; KeyPassphrase decrypts it if set.
	KeyPath       string
	KeyPassphrase string

	// KnownHostsPath enables host key verification. Empty accepts any host key.
	KnownHostsPath string

	// Dir is the remote directory logs are written to.
	Dir string

	Timeout time.Duration
}

// SFTPPersister writes logs into a remote directory over SFTP.
type SFTPPersister struct {
	client *sftp.Client
	conn   *ssh.Client
	dir    string
}

// NewSFTPPersister wraps an established SFTP client.
func NewSFTPPersister(client *sftp.Client, dir string) *SFTPPersister {
	return &SFTPPersister{client: client, dir: dir}
}

// DialSFTP connects to the remote host described by cfg.
func DialSFTP(cfg SFTPConfig) (*SFTPPersister, error) {
	clientConfig, err := buildSSHClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	conn, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to start sftp session: %w", err)
	}

	p := NewSFTPPersister(client, cfg.Dir)
	p.conn = conn
	return p, nil
}

// buildSSHClientConfig builds the SSH client configuration for cfg.
func buildSSHClientConfig(cfg SFTPConfig) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		keyBytes, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if cfg.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(cfg.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cfg.Password
				}
				return answers, nil
			},
		))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no ssh authentication configured for %s", cfg.Host)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// Persist implements Persister.
func (p *SFTPPersister) Persist(_ context.Context, name string, lines []string) error {
	if p.dir != "" {
		if err := p.client.MkdirAll(p.dir); err != nil {
			return fmt.Errorf("failed to create remote directory: %w", err)
		}
	}

	remotePath := path.Join(p.dir, name)

	// Replace rather than append
	if _, err := p.client.Stat(remotePath); err == nil {
		if err := p.client.Remove(remotePath); err != nil {
			return fmt.Errorf("failed to remove previous remote log: %w", err)
		}
	}

	f, err := p.client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote log: %w", err)
	}
	if err := writeLines(f, lines); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close remote log: %w", err)
	}
	return nil
}

// Close closes the SFTP session and, if owned, the SSH connection.
func (p *SFTPPersister) Close() error {
	err := p.client.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
