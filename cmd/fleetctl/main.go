package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
)

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "Operator CLI for the agent fleet orchestrator",
	Long: `fleetctl talks to a running fleetforge server over its HTTP API.
Core concepts:
- Item: a unit of work spanning one or more repositories, driven by a design doc.
- Agent: one PTY-attached assistant process working an item (planner, dev, reviewer, review-receiver).
- Approval: a command the assistant proposed that waits on a human decision before it runs.`,
}

var apiAddr string

func main() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", defaultAddr(), "fleetforge server base URL")
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(approvalCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultAddr() string {
	if v := os.Getenv("FLEETCTL_ADDR"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func client() *apiClient {
	return newAPIClient(apiAddr)
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Manage items"}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemStatusCmd())
	item.AddCommand(itemListCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var name, description, designDoc string
	var repoFlags []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an item and start staging its repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			repos, err := parseRepoFlags(repoFlags)
			if err != nil {
				return err
			}
			it, err := client().createItem(cmd.Context(), createItemRequest{
				Name:         name,
				Description:  description,
				DesignDoc:    designDoc,
				Repositories: repos,
			})
			if err != nil {
				return err
			}
			return printJSON(it)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "item name")
	cmd.Flags().StringVar(&description, "description", "", "item description")
	cmd.Flags().StringVar(&designDoc, "design-doc", "", "path to the design doc the planner agent reads")
	cmd.Flags().StringArrayVar(&repoFlags, "repo", nil, "repository spec dir=name,role=role,type=remote|local,url=...,path=... (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("design-doc")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func itemStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <item-id>",
		Short: "Show an item's derived status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			it, err := client().getItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(it)
		},
	}
	return cmd
}

func itemListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every item",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().listItems(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
	return cmd
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{Use: "agent", Short: "Interact with agents"}
	agent.AddCommand(agentAttachCmd())
	return agent
}

func agentAttachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach <item-id> <agent-id>",
		Short: "Attach a raw-mode terminal session to a live agent's PTY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return attachSession(cmd.Context(), client(), args[0], args[1])
		},
	}
	return cmd
}

func approvalCmd() *cobra.Command {
	approval := &cobra.Command{Use: "approval", Short: "Manage pending command approvals"}
	approval.AddCommand(approvalListCmd())
	approval.AddCommand(approvalDecideCmd())
	return approval
}

func approvalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <item-id>",
		Short: "List an item's pending command approvals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := client().listPendingApprovals(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(events)
		},
	}
	return cmd
}

func approvalDecideCmd() *cobra.Command {
	var approve bool
	var reason string
	cmd := &cobra.Command{
		Use:   "decide <item-id> <event-id>",
		Short: "Approve or reject a pending command",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().decideApproval(cmd.Context(), args[0], decideApprovalRequest{
				EventID:  args[1],
				Approved: approve,
				Reason:   reason,
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the command (default: reject)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded alongside the decision")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseRepoFlags(specs []string) ([]orch.RepositoryConfig, error) {
	repos := make([]orch.RepositoryConfig, 0, len(specs))
	for _, spec := range specs {
		repo, err := parseRepoSpec(spec)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// parseRepoSpec parses a comma-separated key=value repository spec,
// e.g. "dir=api,role=backend,type=remote,url=git@github.com:org/api.git".
func parseRepoSpec(spec string) (orch.RepositoryConfig, error) {
	var r orch.RepositoryConfig
	r.Type = orch.RepoRemote
	for _, kv := range strings.Split(spec, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return orch.RepositoryConfig{}, fmt.Errorf("fleetctl: malformed --repo entry %q", kv)
		}
		key, value := parts[0], parts[1]
		switch key {
		case "dir":
			r.DirectoryName = value
		case "role":
			r.Role = value
		case "type":
			r.Type = orch.RepoType(value)
		case "url":
			r.URL = value
		case "path":
			r.Path = value
		case "baseBranch":
			r.BaseBranch = value
		default:
			return orch.RepositoryConfig{}, fmt.Errorf("fleetctl: unknown --repo key %q", key)
		}
	}
	if r.DirectoryName == "" {
		return orch.RepositoryConfig{}, fmt.Errorf("fleetctl: --repo entry missing dir=")
	}
	return r, nil
}
