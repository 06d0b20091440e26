package birdc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"time"
)

// DefaultSocketPath is where the daemon creates its control socket.
const DefaultSocketPath = "/run/bird/bird.ctl"

// DefaultMaxReplyBytes caps a single reply.
const DefaultMaxReplyBytes = 64 << 20

// ErrReplyTooLarge is returned when a reply exceeds the configured cap.
var ErrReplyTooLarge = errors.New("birdc: reply exceeds size limit")

// ErrInvalidName is returned for table or protocol names that cannot be
// passed to the daemon.
var ErrInvalidName = errors.New("birdc: invalid object name")

var objectNameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Client queries the daemon over its unix control socket. Each query uses
// its own connection, so a Client is safe for concurrent use.
type Client struct {
	socketPath    string
	maxReplyBytes int
	dialer        net.Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithMaxReplyBytes caps the number of payload bytes read for one reply.
func WithMaxReplyBytes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxReplyBytes = n
		}
	}
}

// NewClient returns a client for the control socket at socketPath.
func NewClient(socketPath string, opts ...Option) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	c := &Client{socketPath: socketPath, maxReplyBytes: DefaultMaxReplyBytes}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SocketPath returns the control socket the client dials.
func (c *Client) SocketPath() string { return c.socketPath }

// Query sends one command and returns every reply line, including the
// connection banner, up to and including the final line.
func (c *Client) Query(ctx context.Context, command string) ([]string, error) {
	if _, err := os.Stat(c.socketPath); err != nil {
		return nil, fmt.Errorf("birdc: control socket %s: %w", c.socketPath, err)
	}

	conn, err := c.dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("birdc: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := io.WriteString(conn, command+"\n"); err != nil {
		return nil, c.ioError(ctx, "write", err)
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), c.maxReplyBytes)

	var (
		lines []string
		total int
	)
	for sc.Scan() {
		line := sc.Text()
		total += len(line) + 1
		if total > c.maxReplyBytes {
			return nil, fmt.Errorf("%w (%d bytes)", ErrReplyTooLarge, c.maxReplyBytes)
		}
		lines = append(lines, line)
		if SplitLine(line).Final() {
			return lines, nil
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w (%d bytes)", ErrReplyTooLarge, c.maxReplyBytes)
		}
		return nil, c.ioError(ctx, "read", err)
	}
	return nil, fmt.Errorf("birdc: read: %w", io.ErrUnexpectedEOF)
}

func (c *Client) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("birdc: %s: %w", op, ctxErr)
	}
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return fmt.Errorf("birdc: %s: %w", op, context.DeadlineExceeded)
	}
	return fmt.Errorf("birdc: %s: %w", op, err)
}

// ShowStatus runs "show status".
func (c *Client) ShowStatus(ctx context.Context) (*Status, error) {
	lines, err := c.Query(ctx, "show status")
	if err != nil {
		return nil, err
	}
	return DecodeStatus(lines)
}

// ShowProtocols runs "show protocols".
func (c *Client) ShowProtocols(ctx context.Context) (*Protocols, error) {
	lines, err := c.Query(ctx, "show protocols")
	if err != nil {
		return nil, err
	}
	return DecodeProtocols(lines)
}

// ShowProtocol runs "show protocols all <name>".
func (c *Client) ShowProtocol(ctx context.Context, name string) (*Protocol, error) {
	if !objectNameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: protocol %q", ErrInvalidName, name)
	}
	lines, err := c.Query(ctx, "show protocols all "+name)
	if err != nil {
		return nil, err
	}
	return DecodeProtocol(name, lines)
}

// ShowRouteTable runs "show route table <table> all" and returns the decoded
// table together with the raw reply.
func (c *Client) ShowRouteTable(ctx context.Context, table string) (*RouteTable, []string, error) {
	cmd, err := RouteTableCommand(table)
	if err != nil {
		return nil, nil, err
	}
	lines, err := c.Query(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	rt, err := DecodeRouteTable(lines)
	if err != nil {
		return nil, lines, err
	}
	return rt, lines, nil
}

// RouteTableCommand returns the command that dumps table with all attributes.
func RouteTableCommand(table string) (string, error) {
	if !objectNameRe.MatchString(table) {
		return "", fmt.Errorf("%w: table %q", ErrInvalidName, table)
	}
	return "show route table " + table + " all", nil
}
