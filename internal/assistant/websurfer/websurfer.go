// ABOUTME: Web-surfer specialist task: fetches a page and summarizes it.
// ABOUTME: Extracts readable text from HTML, then asks the model to answer from it.

package websurfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/2389/noa/internal/llm"
)

// maxPageText caps how much extracted text is handed to the model.
const maxPageText = 8000

const summarizePrompt = `You answer questions using the text of a web page.
The user message contains the page text followed by the question.
Answer the question from the page text alone. If the page does not answer it, say so.`

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// Task fetches a page referenced in the query and answers from its content.
type Task struct {
	client llm.Client
	http   *http.Client
	logger *slog.Logger
}

func New(client llm.Client, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{
		client: client,
		http:   &http.Client{Timeout: 20 * time.Second},
		logger: logger.With("component", "websurfer"),
	}
}

// Execute answers one query. The query must contain an http(s) URL.
func (t *Task) Execute(ctx context.Context, query string) (string, error) {
	pageURL := urlPattern.FindString(query)
	if pageURL == "" {
		return "", fmt.Errorf("no URL in query %q", query)
	}
	pageURL = strings.TrimRight(pageURL, ".,)")
	if _, err := url.Parse(pageURL); err != nil {
		return "", fmt.Errorf("bad URL %q: %w", pageURL, err)
	}

	text, err := t.fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("no readable text at %s", pageURL)
	}
	if len(text) > maxPageText {
		text = text[:maxPageText]
	}

	if t.client == nil {
		return text, nil
	}

	answer, err := t.client.Chat(ctx, []llm.ChatTurn{
		{Role: "system", Content: summarizePrompt},
		{Role: "user", Content: fmt.Sprintf("Page text from %s:\n\n%s\n\nQuestion: %s", pageURL, text, query)},
	})
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", pageURL, err)
	}
	return strings.TrimSpace(answer), nil
}

func (t *Task) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "noa-websurfer/1.0")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", pageURL, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, 4<<20)
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "text/plain") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	doc, err := html.Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return ExtractText(doc), nil
}

// ExtractText walks an HTML tree and returns its visible text, skipping
// script, style, and other non-content elements.
func ExtractText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "head", "nav", "iframe":
				return
			}
		case html.TextNode:
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String())
}
