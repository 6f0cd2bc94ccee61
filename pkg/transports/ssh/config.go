// Package ssh provides the SSH execution transport: it runs deployment
// commands on a remote portal host and uploads generated artifacts over
// SFTP.
package ssh

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication.
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication.
	AuthMethodKey AuthMethod = "key"
)

// Config holds SSH connection configuration.
type Config struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port (default: 22).
	Port int

	// User is the SSH username.
	User string

	// AuthMethod specifies which authentication method to use.
	AuthMethod AuthMethod

	// Password for password-based authentication.
	Password string

	// PrivateKeyPath is the path to the private key file.
	PrivateKeyPath string

	// PrivateKeyPassphrase is the passphrase for encrypted private keys.
	PrivateKeyPassphrase string

	// KnownHostsPath is the path to the known_hosts file. If empty, host
	// key verification is disabled (not recommended for production).
	KnownHostsPath string

	// ConnectTimeout is the timeout for establishing a connection.
	ConnectTimeout time.Duration
}

// DefaultConfig returns a config with sensible defaults applied.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Port:           22,
		AuthMethod:     AuthMethodKey,
		PrivateKeyPath: home + "/.ssh/id_ed25519",
		KnownHostsPath: home + "/.ssh/known_hosts",
		ConnectTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("ssh host is required")
	}
	if c.User == "" {
		return fmt.Errorf("ssh user is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("ssh port %d is out of range", c.Port)
	}
	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password auth requires a password")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("key auth requires a private key path")
		}
	default:
		return fmt.Errorf("unsupported auth method %q", c.AuthMethod)
	}
	return nil
}

// clientConfig builds the golang.org/x/crypto/ssh client configuration.
func (c *Config) clientConfig() (*ssh.ClientConfig, error) {
	var auths []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		auths = append(auths, ssh.Password(c.Password))

	case AuthMethodKey:
		keyData, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in when no known_hosts configured
	if c.KnownHostsPath != "" {
		if _, err := os.Stat(c.KnownHostsPath); err == nil {
			cb, err := knownhosts.New(c.KnownHostsPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load known_hosts: %w", err)
			}
			hostKeyCallback = cb
		}
	}

	timeout := c.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}
