package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/donelist/internal/mcp"
	"github.com/rcliao/donelist/internal/service"
)

func mcpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the task list as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := a.taskService()
			if err != nil {
				return err
			}

			orch := a.orchestrator(tasks, nil, service.NewViewState())
			server := mcp.NewMCPServer(tasks, orch, a.logger.Named("mcp"))
			transport := mcp.NewMCPTransport(server, os.Stdin, os.Stdout, Version, a.logger.Named("mcp"))
			return transport.Serve(cmd.Context())
		},
	}
}
