package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyProvider implements Provider against a Valkey/Redis-compatible
// server. Connections are dialed per operation; classification caching is
// low-rate enough that pooling is not worth the state.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the cache server.
type ValkeyConfig struct {
	Addr        string
	Password    string
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

// NewValkeyProvider creates a Provider and pings the target so bad
// credentials or connectivity fail at startup, not mid-detection.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 500 * time.Millisecond
	}

	p := &ValkeyProvider{cfg: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := p.ping(ctx); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.withConn(ctx, func(c *respConn) error {
		if err := c.command("GET", key); err != nil {
			return err
		}
		data, isNil, err := c.readReply()
		if err != nil {
			return err
		}
		if isNil {
			return ErrCacheMiss
		}
		payload = data
		return nil
	})
	return payload, err
}

// Set stores bytes with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.withConn(ctx, func(c *respConn) error {
		args := []string{key, string(value)}
		if ttl > 0 {
			args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
		}
		if err := c.command("SET", args...); err != nil {
			return err
		}
		data, _, err := c.readReply()
		if err != nil {
			return err
		}
		if !strings.EqualFold(string(data), "OK") {
			return fmt.Errorf("unexpected SET response: %s", data)
		}
		return nil
	})
}

// Close is a no-op; connections are per-operation.
func (p *ValkeyProvider) Close() error { return nil }

func (p *ValkeyProvider) ping(ctx context.Context) error {
	return p.withConn(ctx, func(c *respConn) error {
		if err := c.command("PING"); err != nil {
			return err
		}
		data, _, err := c.readReply()
		if err != nil {
			return err
		}
		if !strings.EqualFold(string(data), "PONG") {
			return fmt.Errorf("unexpected PING response: %s", data)
		}
		return nil
	})
}

func (p *ValkeyProvider) withConn(ctx context.Context, fn func(*respConn) error) error {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	if err != nil {
		return err
	}
	c := &respConn{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		timeout: p.cfg.IOTimeout,
	}
	defer conn.Close()

	if p.cfg.Password != "" {
		if err := c.command("AUTH", p.cfg.Password); err != nil {
			return err
		}
		data, _, err := c.readReply()
		if err != nil {
			return err
		}
		if !strings.EqualFold(string(data), "OK") {
			return fmt.Errorf("auth failed: %s", data)
		}
	}
	return fn(c)
}

// respConn speaks the minimal RESP subset the provider needs: array-of-bulk
// commands out, simple string / bulk string / error replies in.
type respConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	timeout time.Duration
}

func (c *respConn) command(name string, args ...string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.writer, "*%d\r\n", len(args)+1)
	for _, part := range append([]string{name}, args...) {
		fmt.Fprintf(c.writer, "$%d\r\n%s\r\n", len(part), part)
	}
	return c.writer.Flush()
}

// readReply returns the reply payload and whether it was a RESP nil.
func (c *respConn) readReply() ([]byte, bool, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, false, err
	}
	prefix, err := c.reader.ReadByte()
	if err != nil {
		return nil, false, err
	}
	line, err := c.readLine()
	if err != nil {
		return nil, false, err
	}
	switch prefix {
	case '+', ':':
		return line, false, nil
	case '-':
		return nil, false, errors.New(string(line))
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return nil, false, err
		}
		if size == -1 {
			return nil, true, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return nil, false, err
		}
		return buf[:size], false, nil
	default:
		return nil, false, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
