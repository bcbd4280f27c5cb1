// Command refluxctl is an admin CLI that talks to a running refluxd over
// its own REST API. Grounded on the teacher's cmd/slctl/main.go: a global
// flag set (addr/timeout), a flat apiClient wrapping net/http, and a
// top-level subcommand switch dispatching into per-resource handlers.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	defaultAddr := getenv("REFLUX_ADDR", "http://localhost:8080")

	root := flag.NewFlagSet("refluxctl", flag.ContinueOnError)
	root.SetOutput(io.Discard)
	addrFlag := root.String("addr", defaultAddr, "refluxd base URL (env REFLUX_ADDR)")
	timeoutFlag := root.Duration("timeout", 15*time.Second, "HTTP request timeout")
	if err := root.Parse(args); err != nil {
		return usageError(err)
	}

	remaining := root.Args()
	if len(remaining) == 0 {
		return usageError(errors.New("no command specified"))
	}

	client := &apiClient{
		baseURL: strings.TrimRight(*addrFlag, "/"),
		http:    &http.Client{Timeout: *timeoutFlag},
	}

	switch remaining[0] {
	case "flows":
		return handleFlows(ctx, client, remaining[1:])
	case "runs":
		return handleRuns(ctx, client, remaining[1:])
	case "retention":
		return handleRetention(ctx, client, remaining[1:])
	case "health":
		data, err := client.request(ctx, http.MethodGet, "/health", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		return usageError(fmt.Errorf("unknown command %q", remaining[0]))
	}
}

func usageError(err error) error {
	printRootUsage()
	return err
}

func printRootUsage() {
	fmt.Println(`REFLUX admin CLI (refluxctl)

Usage:
  refluxctl [global flags] <command> [subcommand] [flags]

Global Flags:
  --addr       refluxd base URL (env REFLUX_ADDR, default http://localhost:8080)
  --timeout    HTTP timeout (default 15s)

Commands:
  flows       Manage flow definitions and versions
  runs        Inspect workflow runs and logs
  retention   Inspect and trigger retention cleanup
  health      Show server health`)
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func (c *apiClient) request(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		var parsed struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != "" {
			msg = parsed.Error
		}
		return nil, fmt.Errorf("%s %s: %s (status %d)", method, path, msg, resp.StatusCode)
	}
	return data, nil
}

func prettyPrint(data []byte) {
	if len(data) == 0 {
		fmt.Println("(empty)")
		return
	}
	var dst bytes.Buffer
	if err := json.Indent(&dst, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(dst.String())
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ---------------------------------------------------------------------
// Flows

func handleFlows(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 {
		fmt.Println(`Usage:
  refluxctl flows list [--active]
  refluxctl flows get <flow-id>
  refluxctl flows create --file <path.json>
  refluxctl flows delete <flow-id>
  refluxctl flows execute <flow-id> [--inputs JSON]
  refluxctl flows versions <flow-id>
  refluxctl flows rollback <flow-id> --version N`)
		return nil
	}

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("flows list", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		active := fs.Bool("active", false, "only list active flows")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		path := "/api/flows"
		if *active {
			path += "?active=true"
		}
		data, err := client.request(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	case "get":
		if len(args) < 2 {
			return errors.New("flow id required")
		}
		data, err := client.request(ctx, http.MethodGet, "/api/flows/"+args[1], nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	case "create":
		fs := flag.NewFlagSet("flows create", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		file := fs.String("file", "", "path to a flow definition JSON file (required)")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *file == "" {
			return errors.New("--file is required")
		}
		raw, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("read flow file: %w", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("parse flow file: %w", err)
		}
		data, err := client.request(ctx, http.MethodPost, "/api/flows", payload)
		if err != nil {
			return err
		}
		prettyPrint(data)
	case "delete":
		if len(args) < 2 {
			return errors.New("flow id required")
		}
		_, err := client.request(ctx, http.MethodDelete, "/api/flows/"+args[1], nil)
		return err
	case "execute":
		if len(args) < 2 {
			return errors.New("flow id required")
		}
		fs := flag.NewFlagSet("flows execute", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		inputsRaw := fs.String("inputs", "", "inline JSON object of inputs")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		payload := map[string]any{}
		if strings.TrimSpace(*inputsRaw) != "" {
			var inputs map[string]any
			if err := json.Unmarshal([]byte(*inputsRaw), &inputs); err != nil {
				return fmt.Errorf("parse --inputs: %w", err)
			}
			payload["inputs"] = inputs
		}
		data, err := client.request(ctx, http.MethodPost, "/api/flows/"+args[1]+"/execute", payload)
		if err != nil {
			return err
		}
		prettyPrint(data)
	case "versions":
		if len(args) < 2 {
			return errors.New("flow id required")
		}
		data, err := client.request(ctx, http.MethodGet, "/api/flows/"+args[1]+"/versions", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	case "rollback":
		if len(args) < 2 {
			return errors.New("flow id required")
		}
		fs := flag.NewFlagSet("flows rollback", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		version := fs.Int("version", 0, "version to roll back to (required)")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if *version <= 0 {
			return errors.New("--version is required")
		}
		path := fmt.Sprintf("/api/flows/%s/versions/%d/rollback", args[1], *version)
		data, err := client.request(ctx, http.MethodPost, path, nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	default:
		return fmt.Errorf("unknown flows subcommand %q", args[0])
	}
	return nil
}

// ---------------------------------------------------------------------
// Runs

func handleRuns(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 {
		fmt.Println(`Usage:
  refluxctl runs list [--flow-id <id>] [--limit N]
  refluxctl runs get <run-id>
  refluxctl runs logs <run-id>`)
		return nil
	}

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("runs list", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		flowID := fs.String("flow-id", "", "filter by flow id")
		limit := fs.Int("limit", 0, "maximum runs to return")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		path := "/api/runs?"
		var q []string
		if *flowID != "" {
			q = append(q, "flowId="+*flowID)
		}
		if *limit > 0 {
			q = append(q, fmt.Sprintf("limit=%d", *limit))
		}
		path += strings.Join(q, "&")
		data, err := client.request(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	case "get":
		if len(args) < 2 {
			return errors.New("run id required")
		}
		data, err := client.request(ctx, http.MethodGet, "/api/runs/"+args[1], nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	case "logs":
		if len(args) < 2 {
			return errors.New("run id required")
		}
		data, err := client.request(ctx, http.MethodGet, "/api/runs/"+args[1]+"/logs", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	default:
		return fmt.Errorf("unknown runs subcommand %q", args[0])
	}
	return nil
}

// ---------------------------------------------------------------------
// Retention

func handleRetention(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 {
		fmt.Println(`Usage:
  refluxctl retention policy
  refluxctl retention preview
  refluxctl retention history [--limit N]
  refluxctl retention stats
  refluxctl retention cleanup [--dry-run]`)
		return nil
	}

	switch args[0] {
	case "policy":
		data, err := client.request(ctx, http.MethodGet, "/api/admin/retention/policy", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	case "preview":
		data, err := client.request(ctx, http.MethodGet, "/api/admin/retention/preview", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	case "history":
		fs := flag.NewFlagSet("retention history", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		limit := fs.Int("limit", 0, "maximum audit records to return")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		path := "/api/admin/retention/history"
		if *limit > 0 {
			path += fmt.Sprintf("?limit=%d", *limit)
		}
		data, err := client.request(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	case "stats":
		data, err := client.request(ctx, http.MethodGet, "/api/admin/retention/stats", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	case "cleanup":
		fs := flag.NewFlagSet("retention cleanup", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		dryRun := fs.Bool("dry-run", false, "preview deletions without applying them")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		data, err := client.request(ctx, http.MethodPost, "/api/admin/retention/cleanup", map[string]any{"dryRun": *dryRun})
		if err != nil {
			return err
		}
		prettyPrint(data)
	default:
		return fmt.Errorf("unknown retention subcommand %q", args[0])
	}
	return nil
}
