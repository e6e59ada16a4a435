// Command voyagent is the voyagent CLI client.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/voyagent/voyagent/internal/version"
	"github.com/voyagent/voyagent/runner"
)

const defaultServer = "http://localhost:8000"

func main() {
	serverURL := flag.String("server", defaultServer, "voyagent server URL")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion(rest)
	case "status":
		err = cli.cmdStatus(rest)
	case "config":
		err = cli.cmdConfig(rest)
	case "run":
		err = cli.cmdRun(rest)
	case "search":
		err = cli.cmdSearch(rest)
	case "stop":
		err = cli.cmdStop(rest)
	case "tasks":
		err = cli.cmdTasks(rest)
	case "recordings":
		err = cli.cmdRecordings(rest)
	case "script":
		err = cli.cmdScript(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `voyagent — voyagent CLI

Usage:
  voyagent [flags] <command> [args]

Flags:
  --server  <url>    server URL (default: http://localhost:8000)

Commands:
  version                 print version
  status                  check server liveness
  config                  show default run configuration
  run <task...>           run an agent task and poll until it finishes
  search <topic...>       run a deep search and poll until it finishes
  stop <agent|search>     stop the running task of that kind
  tasks                   list known tasks
  recordings              list recording files
  script <history-file>   generate a Cypress test from a run history
`)
}

// --- version ---

func cmdVersion(_ []string) error {
	fmt.Printf("voyagent %s (commit %s, built %s)\n",
		version.Version, version.Commit, version.BuildDate)
	return nil
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// get performs a GET and decodes JSON into v.
func (c *Client) get(path string, v any) error {
	resp, err := c.HTTPClient.Get(c.BaseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// post performs a POST with a JSON body and decodes JSON into v.
func (c *Client) post(path string, body io.Reader, v any) error {
	resp, err := c.HTTPClient.Post(c.BaseURL+path, "application/json", body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if v != nil && resp.ContentLength != 0 {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// apiError extracts the detail message from an error response.
func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var body map[string]string
	if err := json.Unmarshal(b, &body); err == nil && body["detail"] != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body["detail"])
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

// --- status ---

func (c *Client) cmdStatus(_ []string) error {
	var result map[string]string
	if err := c.get("/", &result); err != nil {
		return err
	}
	fmt.Printf("status:  %s\n", result["status"])
	fmt.Printf("message: %s\n", result["message"])
	return nil
}

// --- config ---

func (c *Client) cmdConfig(_ []string) error {
	var cfg map[string]any
	if err := c.get("/config/default", &cfg); err != nil {
		return err
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// --- run and search ---

func (c *Client) cmdRun(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: voyagent run <task...>")
	}
	taskText := strings.Join(args, " ")

	body := fmt.Sprintf(`{"task":%q}`, taskText)
	var started map[string]string
	if err := c.post("/agent/run", strings.NewReader(body), &started); err != nil {
		return err
	}
	id := started["task_id"]
	fmt.Printf("task %s admitted\n", id)

	return c.pollUntilDone("/agent/status/" + id)
}

func (c *Client) cmdSearch(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: voyagent search <topic...>")
	}
	topic := strings.Join(args, " ")

	body := fmt.Sprintf(`{"research_task":%q}`, topic)
	var started map[string]string
	if err := c.post("/deep-search/run", strings.NewReader(body), &started); err != nil {
		return err
	}
	id := started["task_id"]
	fmt.Printf("search %s admitted\n", id)

	return c.pollUntilDone("/deep-search/status/" + id)
}

// pollUntilDone polls a status endpoint every two seconds until the task
// reaches a terminal state, then prints its result.
func (c *Client) pollUntilDone(path string) error {
	for {
		time.Sleep(2 * time.Second)

		var status map[string]any
		if err := c.get(path, &status); err != nil {
			return err
		}
		if status["status"] == "running" {
			fmt.Println("still running...")
			continue
		}

		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
}

// --- stop ---

func (c *Client) cmdStop(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: voyagent stop <agent|search>")
	}

	var path string
	switch args[0] {
	case "agent":
		path = "/agent/stop"
	case "search":
		path = "/deep-search/stop"
	default:
		return fmt.Errorf("unknown stop target: %s", args[0])
	}

	var result map[string]string
	if err := c.post(path, nil, &result); err != nil {
		return err
	}
	fmt.Printf("stop requested for %s\n", result["task_id"])
	return nil
}

// --- tasks ---

func (c *Client) cmdTasks(_ []string) error {
	var result struct {
		Tasks []map[string]any `json:"tasks"`
	}
	if err := c.get("/tasks", &result); err != nil {
		return err
	}
	if len(result.Tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	fmt.Printf("%-12s %-12s %-16s %s\n", "ID", "KIND", "STATUS", "CREATED")
	fmt.Println(strings.Repeat("-", 60))
	for _, t := range result.Tasks {
		fmt.Printf("%-12s %-12s %-16s %s\n",
			strVal(t["task_id"]),
			strVal(t["kind"]),
			strVal(t["status"]),
			strVal(t["created_at"]),
		)
	}
	return nil
}

// --- recordings ---

func (c *Client) cmdRecordings(_ []string) error {
	var result struct {
		Recordings []string `json:"recordings"`
	}
	if err := c.get("/recordings", &result); err != nil {
		return err
	}
	if len(result.Recordings) == 0 {
		fmt.Println("no recordings")
		return nil
	}
	for _, name := range result.Recordings {
		fmt.Println(name)
	}
	return nil
}

// --- script ---

// cmdScript fetches a run history file from the server and prints a
// replayable Cypress test generated from its recorded actions.
func (c *Client) cmdScript(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: voyagent script <history-file>")
	}

	resp, err := c.HTTPClient.Get(c.BaseURL + "/agent/history/" + args[0])
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	history, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	script, err := runner.CypressScript(history)
	if err != nil {
		return err
	}
	fmt.Print(script)
	return nil
}

func strVal(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
