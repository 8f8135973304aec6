package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gobwas/ws"

	"github.com/omochice/wsecho/internal/client"
)

func main() {
	serverURL := flag.String("url", "ws://127.0.0.1:8080", "WebSocket server URL (e.g., ws://localhost:8080)")
	ping := flag.Bool("ping", false, "Send a single ping, wait for the pong and exit")
	timeout := flag.Duration("timeout", 5*time.Second, "Dial timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	c, err := client.Dial(ctx, *serverURL)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to server: %v", err)
	}
	defer c.Close()

	log.Printf("Connected to %s", *serverURL)

	if *ping {
		if err := pingOnce(c, *timeout); err != nil {
			log.Fatalf("Ping failed: %v", err)
		}
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		printFrames(c)
	}()

	fmt.Println("Type your messages (or 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if text == "quit" || text == "exit" {
			break
		}

		if err := c.SendText(text); err != nil {
			log.Printf("Failed to send message: %v", err)
			break
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}

	if err := c.SendClose(ws.StatusNormalClosure, ""); err != nil {
		log.Printf("Failed to send close frame: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
	}
	log.Println("Disconnected from server")
}

func printFrames(c *client.Client) {
	for {
		f, err := c.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("Error reading from server: %v", err)
			}
			return
		}

		switch f.Header.OpCode {
		case ws.OpText:
			fmt.Printf("< %s\n", f.Payload)
		case ws.OpBinary:
			fmt.Printf("< (%d bytes of binary data)\n", len(f.Payload))
		case ws.OpClose:
			fmt.Println("*** server closed the connection ***")
			return
		}
	}
}

func pingOnce(c *client.Client, timeout time.Duration) error {
	if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	payload := []byte(time.Now().Format(time.RFC3339Nano))
	start := time.Now()
	if err := c.Ping(payload); err != nil {
		return err
	}

	for {
		f, err := c.ReadFrame()
		if err != nil {
			return err
		}
		if f.Header.OpCode != ws.OpPong {
			continue
		}
		if !bytes.Equal(f.Payload, payload) {
			return fmt.Errorf("pong payload %q does not match ping", f.Payload)
		}
		fmt.Printf("pong from %s in %v\n", c.RemoteAddr(), time.Since(start))
		return c.SendClose(ws.StatusNormalClosure, "")
	}
}
