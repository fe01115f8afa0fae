package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/chatrelay/internal/agui"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

var (
	chatAddr    string
	chatVerbose bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running relay over WebSocket",
	Long:  `Each line typed is sent as a new run in the same thread. Step labels and streamed text are printed as they arrive.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s. Type a message and press Enter, /quit to exit.\n", chatAddr)
		return newChatClient(chatAddr, cmd.OutOrStdout(), chatVerbose).Run(ctx, cmd.InOrStdin())
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatAddr, "addr", "ws://localhost:8000/chat/ws", "WebSocket endpoint of the relay")
	chatCmd.Flags().BoolVar(&chatVerbose, "verbose", false, "Print step rationales")
	rootCmd.AddCommand(chatCmd)
}

// chatClient keeps the conversation of one thread and replays it with every run.
type chatClient struct {
	addr     string
	out      io.Writer
	verbose  bool
	threadID string
	history  []domain.Message
}

func newChatClient(addr string, out io.Writer, verbose bool) *chatClient {
	return &chatClient{
		addr:     addr,
		out:      out,
		verbose:  verbose,
		threadID: uuid.NewString(),
	}
}

// Run reads lines from in until EOF, /quit or ctx ends.
func (c *chatClient) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(c.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if line == "/quit" {
			fmt.Fprintln(c.out, "Bye!")
			return nil
		}

		if err := c.Send(ctx, line); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

// Send runs one turn on a fresh connection and records the reply in the history.
func (c *chatClient) Send(ctx context.Context, text string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	content := text
	messages := append(append([]domain.Message(nil), c.history...), domain.Message{
		ID:      uuid.NewString(),
		Role:    domain.RoleUser,
		Content: &content,
	})
	input := map[string]any{
		"threadId": c.threadID,
		"runId":    uuid.NewString(),
		"messages": messages,
	}
	if err := conn.WriteJSON(input); err != nil {
		return fmt.Errorf("write run input: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var reply strings.Builder
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseNormalClosure {
				return fmt.Errorf("server closed the run: %s", closeErr.Text)
			}
			return fmt.Errorf("stream ended before the run finished: %w", err)
		}

		ev, err := agui.Decode(data)
		if err != nil {
			return err
		}

		switch v := ev.(type) {
		case agui.StepStarted:
			fmt.Fprintf(c.out, "  ... %s\n", v.StepName)
			if c.verbose && v.Rationale != "" {
				fmt.Fprintf(c.out, "      %s\n", v.Rationale)
			}
		case agui.TextMessageChunk:
			reply.WriteString(v.Delta)
			fmt.Fprint(c.out, v.Delta)
		case agui.RunFinished:
			fmt.Fprintln(c.out)
			answer := reply.String()
			c.history = append(messages, domain.Message{
				ID:      uuid.NewString(),
				Role:    domain.RoleAssistant,
				Content: &answer,
			})
			return nil
		case agui.RunError:
			fmt.Fprintln(c.out)
			return fmt.Errorf("run failed: %s", v.Message)
		}
	}
}
