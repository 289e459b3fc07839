// ABOUTME: Minimal fake agent for E2E testing — polls the HTTP API, claims waiting conversations, echoes messages.
// ABOUTME: Usage: fake-agent [-addr localhost:8080] [-business biz-1] [-name "Echo Agent"]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/2389/support-gateway/internal/poll"
	"github.com/2389/support-gateway/internal/store"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "gateway HTTP address")
	business := flag.String("business", "biz-1", "business ID to watch")
	name := flag.String("name", "Echo Agent", "Agent display name")
	agentID := flag.String("id", "e2e-echo-agent", "Agent ID")
	flag.Parse()

	if err := run(*addr, *business, *name, *agentID); err != nil {
		log.Fatal(err)
	}
}

// apiClient wraps the gateway HTTP API. It satisfies poll.MessageSource
// so the polling watcher can run against a live server.
type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) getJSON(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

func (c *apiClient) postJSON(ctx context.Context, path string, body any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// Messages implements poll.MessageSource over GET /api/messages.
func (c *apiClient) Messages(ctx context.Context, conversationID string, since time.Time) ([]*store.Message, store.Source, error) {
	path := "/api/messages?conversation_id=" + url.QueryEscape(conversationID)
	if !since.IsZero() {
		path += "&since=" + url.QueryEscape(since.Format(time.RFC3339Nano))
	}
	var resp struct {
		Messages []*store.Message `json:"messages"`
		Source   store.Source     `json:"source"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, store.SourceDurable, err
	}
	return resp.Messages, resp.Source, nil
}

func run(addr, business, name, agentID string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client := &apiClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}

	fmt.Fprintf(os.Stderr, "%s watching business %s at %s\n", name, business, addr)

	claimed := make(map[string]bool)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		if err := claimWaiting(ctx, client, business, agentID, name, claimed); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "poll error: %v\n", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// claimWaiting connects to every waiting conversation and starts an
// echo watcher for each one claimed.
func claimWaiting(ctx context.Context, client *apiClient, business, agentID, name string, claimed map[string]bool) error {
	var resp struct {
		Conversations []*store.Conversation `json:"conversations"`
	}
	if err := client.getJSON(ctx, "/api/conversations?business_id="+url.QueryEscape(business), &resp); err != nil {
		return err
	}

	for _, conv := range resp.Conversations {
		if claimed[conv.ID] || conv.Status != store.StatusWaiting {
			continue
		}

		err := client.postJSON(ctx, "/api/agent/connect", map[string]string{
			"conversationId": conv.ID,
			"agentId":        agentID,
			"agentName":      name,
		})
		if err != nil {
			// Another agent likely won the race; skip it
			fmt.Fprintf(os.Stderr, "connect %s failed: %v\n", conv.ID, err)
			claimed[conv.ID] = true
			continue
		}
		claimed[conv.ID] = true
		fmt.Fprintf(os.Stderr, "connected to %s (%s)\n", conv.ID, conv.CustomerName)

		go echoConversation(ctx, client, conv.ID, agentID, name)
	}
	return nil
}

// echoConversation watches one conversation and echoes every customer
// message back with a markdown flourish.
func echoConversation(ctx context.Context, client *apiClient, conversationID, agentID, name string) {
	watcher := poll.WatchMessages(ctx, client, conversationID, 2*time.Second, func(msg *store.Message) {
		if msg.Sender.Type != store.SenderCustomer {
			return
		}
		reply := fmt.Sprintf("You said: **%s**", msg.Content)
		err := client.postJSON(ctx, "/api/agent/message", map[string]string{
			"conversationId": conversationID,
			"agentId":        agentID,
			"agentName":      name,
			"message":        reply,
		})
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "echo failed: %v\n", err)
		}
	}, nil)

	<-ctx.Done()
	watcher.Stop()
}
