// Command chat is a line-oriented terminal client. It runs the full
// reconciliation engine against a running server: optimistic rendering,
// change-feed deltas and late annotation updates all land in the same
// timeline a graphical client would show.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"attune/backend/internal/client"
	"attune/backend/internal/model"
	"attune/backend/internal/sync"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8000", "attune server base URL")
	token := flag.String("token", "", "bearer token (optional)")
	conversationID := flag.String("conversation", "", "resume an existing conversation")
	backfill := flag.Int("backfill", sync.DefaultBackfillLimit, "recent-window size for backfill sweeps")
	flag.Parse()

	if err := run(*serverURL, *token, *conversationID, *backfill); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(serverURL, token, conversationID string, backfill int) error {
	ctx := context.Background()
	c := client.New(serverURL, token)

	engine := sync.NewEngine(c, c, c, sync.Options{
		Greeting:      "Welcome. Tell me what's been going on between you two.",
		BackfillLimit: backfill,
		OnChange:      render,
	})
	defer engine.Close()

	if conversationID != "" {
		if err := engine.SwitchConversation(ctx, conversationID); err != nil {
			return err
		}
	} else {
		render(engine.Messages())
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return nil
		default:
			if err := engine.Submit(ctx, line); err != nil {
				// The engine already rendered a visible failure entry.
				fmt.Fprintln(os.Stderr, "send failed:", err)
			}
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

// render redraws the whole timeline. Good enough for a terminal.
func render(messages []model.Message) {
	fmt.Print("\033[2J\033[H")
	for _, msg := range messages {
		label := string(msg.Role)
		if msg.Annotation != nil {
			label = fmt.Sprintf("%s (tension %d/5)", label, msg.Annotation.Score)
		}
		fmt.Printf("[%s] %s\n", label, msg.Content)
	}
}
