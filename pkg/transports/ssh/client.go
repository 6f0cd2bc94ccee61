package ssh

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Client wraps an SSH connection to one remote host.
type Client struct {
	config Config
	conn   *ssh.Client
}

// NewClient creates a client for the given configuration without
// connecting.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{config: cfg}, nil
}

// Connect establishes the SSH connection. It is a no-op when already
// connected.
func (c *Client) Connect() error {
	if c.conn != nil {
		return nil
	}

	clientCfg, err := c.config.clientConfig()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	conn, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c.conn = conn
	return nil
}

// Close terminates the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// session opens a new SSH session, connecting first if necessary.
func (c *Client) session() (*ssh.Session, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// sftpClient opens an SFTP subsystem client on the connection.
func (c *Client) sftpClient() (*sftp.Client, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(c.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sftp subsystem: %w", err)
	}
	return client, nil
}
