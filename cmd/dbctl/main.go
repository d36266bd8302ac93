// Command dbctl is a minimal, script-friendly agent-side client: an agent
// wrapper process calls it once per tick to report a heartbeat, or to ask
// whether it has been told to take over from a stalled primary. It talks to
// a running coordhubd over HTTP instead of touching any database file
// directly — the same job the teacher's dbctl did by opening the shared
// SQLite file itself, now routed through the AgentState HTTP surface so
// dbctl never needs write access to the store.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "coordhubd base URL")
	agentID := flag.String("agent", "", "agent id")
	action := flag.String("action", "", "heartbeat, check-takeover, get-state")
	task := flag.String("task", "", "current task, for -action heartbeat")
	status := flag.String("status", "working", "status, for -action heartbeat")
	tokens := flag.Int("tokens", 0, "tokens used, for -action heartbeat")
	jsonOutput := flag.Bool("json", false, "output as JSON")
	flag.Parse()

	if *agentID == "" || *action == "" {
		fmt.Fprintf(os.Stderr, "Usage: dbctl -agent <id> -action <heartbeat|check-takeover|get-state> [-json]\n")
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	switch *action {
	case "heartbeat":
		body := map[string]interface{}{"tokensUsed": *tokens, "currentTask": *task, "status": *status}
		var shadow map[string]interface{}
		if err := postJSON(client, *addr+"/agent/"+*agentID+"/heartbeat", body, &shadow); err != nil {
			fail(err)
		}
		if *jsonOutput {
			json.NewEncoder(os.Stdout).Encode(shadow)
		} else {
			fmt.Printf("heartbeat recorded for %s\n", *agentID)
		}

	case "check-takeover":
		var shadow map[string]interface{}
		if err := getJSON(client, *addr+"/agent/"+*agentID+"/shadow", &shadow); err != nil {
			fail(err)
		}
		takenOver := shadow["shadowStatus"] == "taken-over"
		if *jsonOutput {
			json.NewEncoder(os.Stdout).Encode(map[string]interface{}{"takenOver": takenOver, "shadow": shadow})
		} else if takenOver {
			fmt.Println("1")
		} else {
			fmt.Println("0")
		}

	case "get-state":
		var state map[string]interface{}
		if err := getJSON(client, *addr+"/agent/"+*agentID+"/state", &state); err != nil {
			fail(err)
		}
		json.NewEncoder(os.Stdout).Encode(state)

	default:
		fmt.Fprintf(os.Stderr, "unknown action: %s\n", *action)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "%v\n", err)
	os.Exit(1)
}

func getJSON(client *http.Client, url string, out interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeOrErr(resp, out)
}

func postJSON(client *http.Client, url string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeOrErr(resp, out)
}

func decodeOrErr(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
