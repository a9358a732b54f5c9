package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dcbridge/dcbridge/internal/config"
	"github.com/dcbridge/dcbridge/internal/mcp"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect the tool provider without starting the gateway",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tools exposed by the provider",
	Args:  cobra.NoArgs,
	RunE:  runToolsList,
}

var toolsCallCmd = &cobra.Command{
	Use:   "call NAME [JSON-ARGS]",
	Short: "Call a single tool and print its text output",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runToolsCall,
}

func init() {
	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsCallCmd)
	rootCmd.AddCommand(toolsCmd)
}

// dialProvider builds a one-shot session for CLI inspection commands.
func dialProvider(ctx context.Context) (*mcp.Session, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	session := mcp.NewSession(mcp.SessionConfig{
		BaseURL:       cfg.MCPBaseURL(),
		CallTimeout:   cfg.CallTimeout,
		HTTPClient:    &http.Client{},
		ClientName:    "dcbridge-cli",
		ClientVersion: AppVersion,
		Logger:        newLogger(),
	})

	if err := session.Connect(ctx); err != nil {
		session.Close()
		return nil, nil, fmt.Errorf("connecting to %s: %w", cfg.MCPBaseURL(), err)
	}

	return session, cfg, nil
}

func runToolsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	session, cfg, err := dialProvider(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	tools, err := session.Tools(ctx)
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}

	name, version := session.ServerInfo()
	fmt.Printf("Provider: %s %s (%s)\n\n", name, version, cfg.MCPBaseURL())

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, tool := range tools {
		fmt.Fprintf(w, "%s\t%s\n", tool.Name, tool.Description)
	}
	return w.Flush()
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	name := args[0]
	toolArgs := map[string]any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	session, _, err := dialProvider(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	result, err := session.CallTool(ctx, name, toolArgs)
	if err != nil {
		return fmt.Errorf("calling %s: %w", name, err)
	}

	if result.IsError {
		return fmt.Errorf("tool %s reported an error: %s", name, result.Text())
	}

	fmt.Println(result.Text())
	return nil
}
