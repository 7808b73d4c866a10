package cinequeryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("cinequeryctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "CineQuery API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 90*time.Second), "HTTP timeout (e.g. 90s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	var (
		method  string
		path    string
		payload any
		text    bool
	)
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "ask":
		askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
		askFlags.SetOutput(stderr)
		textOutput := askFlags.Bool("text", false, "print the answer and trace instead of JSON")
		if err := askFlags.Parse(rest); err != nil {
			return 2
		}
		question, ok := questionArg(askFlags.Args(), stderr)
		if !ok {
			return 2
		}
		method, path, text = http.MethodPost, "/v1/ask", *textOutput
		payload = map[string]any{"question": question}
	case "similar":
		similarFlags := flag.NewFlagSet("similar", flag.ContinueOnError)
		similarFlags.SetOutput(stderr)
		k := similarFlags.Int("k", -1, "number of nearest movies (0 returns all; default uses the server setting)")
		if err := similarFlags.Parse(rest); err != nil {
			return 2
		}
		question, ok := questionArg(similarFlags.Args(), stderr)
		if !ok {
			return 2
		}
		body := map[string]any{"question": question}
		if *k >= 0 {
			body["k"] = *k
		}
		method, path, payload = http.MethodPost, "/v1/similar", body
	case "translate":
		question, ok := questionArg(rest, stderr)
		if !ok {
			return 2
		}
		method, path = http.MethodPost, "/v1/sql/translate"
		payload = map[string]any{"question": question}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, payload)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if text {
		if rendered, ok := renderEnvelope(responseBody); ok {
			_, _ = fmt.Fprint(stdout, rendered)
			return 0
		}
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func questionArg(args []string, stderr io.Writer) (string, bool) {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		_, _ = fmt.Fprintln(stderr, "a question is required")
		return "", false
	}
	return question, true
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func renderEnvelope(raw []byte) (string, bool) {
	var envelope struct {
		ContentText string `json:"content_text"`
		Trace       string `json:"trace"`
		ResultSet   *struct {
			Columns []string         `json:"columns"`
			Rows    []map[string]any `json:"rows"`
		} `json:"result_set"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", false
	}

	var out strings.Builder
	out.WriteString(envelope.ContentText)
	out.WriteString("\n")
	if envelope.ResultSet != nil && len(envelope.ResultSet.Rows) > 0 {
		out.WriteString("\n")
		out.WriteString(strings.Join(envelope.ResultSet.Columns, "\t"))
		out.WriteString("\n")
		for _, row := range envelope.ResultSet.Rows {
			cells := make([]string, len(envelope.ResultSet.Columns))
			for i, column := range envelope.ResultSet.Columns {
				if value, ok := row[column]; ok && value != nil {
					cells[i] = fmt.Sprint(value)
				}
			}
			out.WriteString(strings.Join(cells, "\t"))
			out.WriteString("\n")
		}
	}
	if envelope.Trace != "" {
		out.WriteString("\n")
		out.WriteString(envelope.Trace)
		out.WriteString("\n")
	}
	return out.String(), true
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: cinequeryctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                        GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                         GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  ask [-text] <question>        POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  similar [-k n] <question>     POST /v1/similar")
	_, _ = fmt.Fprintln(w, "  translate <question>          POST /v1/sql/translate")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
