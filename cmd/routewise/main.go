// Command routewise is a terminal client for the planning service.
//
//	routewise -session abc123 "Delhi to Jaipur for 3 days under ₹15k"
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type planRequest struct {
	Query           string `json:"query"`
	SessionID       string `json:"sessionId,omitempty"`
	FastMode        *bool  `json:"fastMode,omitempty"`
	DeadlineSeconds int    `json:"deadlineSeconds,omitempty"`
	Save            bool   `json:"save,omitempty"`
}

type planResponse struct {
	Markdown       string  `json:"markdown"`
	SessionID      string  `json:"sessionId"`
	Route          string  `json:"route"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "service address")
	sessionID := flag.String("session", "", "continue an existing session")
	fast := flag.Bool("fast", false, "fast mode: fewer queries, quicker answer")
	slow := flag.Bool("slow", false, "force full research even if the server defaults to fast")
	deadline := flag.Int("deadline", 0, "per-request deadline in seconds (0 = server default)")
	noSave := flag.Bool("no-save", false, "don't save the plan as an artifact on the server")
	flag.Parse()

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: routewise [flags] <query>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	req := planRequest{
		Query:           query,
		SessionID:       *sessionID,
		DeadlineSeconds: *deadline,
		Save:            !*noSave,
	}
	switch {
	case *fast && *slow:
		fmt.Fprintln(os.Stderr, "routewise: -fast and -slow are mutually exclusive")
		os.Exit(2)
	case *fast:
		req.FastMode = boolPtr(true)
	case *slow:
		req.FastMode = boolPtr(false)
	}

	body, err := json.Marshal(req)
	if err != nil {
		fatal(err)
	}
	client := &http.Client{Timeout: 6 * time.Minute}
	resp, err := client.Post(*addr+"/api/v1/plan", "application/json", bytes.NewReader(body))
	if err != nil {
		fatal(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "routewise: server returned %d: %s\n", resp.StatusCode, strings.TrimSpace(string(raw)))
		os.Exit(1)
	}

	var pr planResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		fatal(err)
	}

	fmt.Println(pr.Markdown)
	fmt.Fprintf(os.Stderr, "\n[session %s | route %s | %.1fs]\n", pr.SessionID, pr.Route, pr.ElapsedSeconds)
}

func boolPtr(b bool) *bool { return &b }

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "routewise:", err)
	os.Exit(1)
}
