package wellenbrecher

import (
	"bufio"
	"fmt"
	"net"
	"time"
)

// TestClient is a minimal Pixelflut client for exercising a running server
// from integration tests: it speaks the line protocol directly over a real
// TCP connection, the same way a real drawing client would.
type TestClient struct {
	conn net.Conn
	r    *bufio.Reader
}

// DialTestClient connects to a server listening on addr (e.g.
// "127.0.0.1:1337").
func DialTestClient(addr string) (*TestClient, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("wellenbrecher: dial test client: %w", err)
	}
	return &TestClient{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Send writes a single command line, appending the trailing newline.
func (c *TestClient) Send(line string) error {
	_, err := fmt.Fprintf(c.conn, "%s\n", line)
	return err
}

// ReadLine reads one newline-terminated reply, with the trailing newline
// stripped.
func (c *TestClient) ReadLine() (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	return line, nil
}

// Close closes the underlying connection.
func (c *TestClient) Close() error {
	return c.conn.Close()
}
