// Command coordctl is an operator CLI for a running coordhubd instance: list
// agents/tasks, inspect or force-release locks, and tail the team chat log.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var apiAddr string

func main() {
	root := &cobra.Command{
		Use:   "coordctl",
		Short: "Operator CLI for coordhubd",
	}
	root.PersistentFlags().StringVar(&apiAddr, "addr", "http://localhost:8080", "coordhubd base URL")

	root.AddCommand(newAgentsCmd())
	root.AddCommand(newTasksCmd())
	root.AddCommand(newLockCmd())
	root.AddCommand(newChatCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func apiGet(path string, out interface{}) error {
	resp, err := httpClient.Get(apiAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeOrErr(resp, out)
}

func apiPost(path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(apiAddr+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeOrErr(resp, out)
}

func decodeOrErr(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			var agents []map[string]interface{}
			if err := apiGet("/coordinator/agents", &agents); err != nil {
				return err
			}
			printJSON(agents)
			return nil
		},
	}
	return cmd
}

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks on the board",
		RunE: func(cmd *cobra.Command, args []string) error {
			var tasks []map[string]interface{}
			if err := apiGet("/coordinator/tasks", &tasks); err != nil {
				return err
			}
			printJSON(tasks)
			return nil
		},
	}
	return cmd
}

func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect and manage resource locks",
	}

	checkCmd := &cobra.Command{
		Use:   "check [resourcePath]",
		Short: "Show the current lock state for a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res map[string]interface{}
			if err := apiGet("/lock/"+args[0]+"/check", &res); err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}

	var force bool
	var asAgent string
	releaseCmd := &cobra.Command{
		Use:   "release [resourcePath]",
		Short: "Release a resource lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res map[string]interface{}
			body := map[string]interface{}{"agentId": asAgent, "force": force}
			if err := apiPost("/lock/"+args[0]+"/unlock", body, &res); err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	releaseCmd.Flags().BoolVar(&force, "force", true, "release even if not the calling agent's lock")
	releaseCmd.Flags().StringVar(&asAgent, "agent", "coordctl", "agentId to release as")

	historyCmd := &cobra.Command{
		Use:   "history [resourcePath]",
		Short: "Show lock/release history for a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var hist []map[string]interface{}
			if err := apiGet("/lock/"+args[0]+"/history", &hist); err != nil {
				return err
			}
			printJSON(hist)
			return nil
		},
	}

	cmd.AddCommand(checkCmd, releaseCmd, historyCmd)
	return cmd
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Tail the team chat log",
		RunE: func(cmd *cobra.Command, args []string) error {
			var msgs []map[string]interface{}
			if err := apiGet("/coordinator/chat", &msgs); err != nil {
				return err
			}
			printJSON(msgs)
			return nil
		},
	}
	return cmd
}
