package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/burrowdb/burrow/pkg/server"
)

// DefaultAddr is where the shell connects unless told otherwise.
const DefaultAddr = "127.0.0.1:9999"

// Client is one connection to a Burrow server.
type Client struct {
	tr *server.Transporter
}

// Dial connects to a server.
func Dial(addr string) (*Client, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &Client{tr: server.NewTransporter(conn)}, nil
}

// Execute sends one statement and returns the server's result bytes.
func (c *Client) Execute(sql string) ([]byte, error) {
	if err := c.tr.Send(server.Encode([]byte(sql), nil)); err != nil {
		return nil, err
	}
	frame, err := c.tr.Receive()
	if err != nil {
		return nil, err
	}
	return server.Decode(frame)
}

// Close hangs up.
func (c *Client) Close() error {
	return c.tr.Close()
}

// Shell runs the interactive loop: prompt, read a line, send it,
// print the result. "exit" and "quit" end the session, as does EOF.
func Shell(c *Client, in io.Reader, out, errOut io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, ":> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		res, err := c.Execute(line)
		if err != nil {
			fmt.Fprintln(errOut, err)
			continue
		}
		fmt.Fprintln(out, string(res))
	}
}

// Run dials addr and drives the shell on standard input and output.
func Run(addr string) error {
	c, err := Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()
	return Shell(c, os.Stdin, os.Stdout, os.Stderr)
}
