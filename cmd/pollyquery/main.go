package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "pollyquery",
		Usage: "Ask questions about a SQL database and watch the agent reason",
		Commands: []*cli.Command{
			serveCommand(),
			askCommand(),
			historyCommand(),
			tablesCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the streaming query server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML config file; flags override its values",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
				Value: defaultAddr,
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "SQLite database the agent queries",
				Value: defaultDatabase,
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Model to use (provider/model format)",
				Value:   defaultModel,
			},
			&cli.StringFlag{
				Name:  "baseurl",
				Usage: "Base URL for API (for OpenAI-compatible endpoints or Ollama)",
				Value: defaultBaseURL,
			},
			&cli.Float64Flag{
				Name:  "temp",
				Usage: "Temperature for sampling",
				Value: defaultTemperature,
			},
			&cli.IntFlag{
				Name:  "maxtokens",
				Usage: "Maximum tokens to generate per model call",
				Value: defaultMaxTokens,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Overall time limit for one question",
				Value: defaultTimeout,
			},
			&cli.DurationFlag{
				Name:  "tool-timeout",
				Usage: "Time limit for one tool call",
				Value: defaultToolTimeout,
			},
			&cli.IntFlag{
				Name:  "max-iterations",
				Usage: "Maximum reasoning iterations per question",
				Value: defaultMaxIterations,
			},
			&cli.StringFlag{
				Name:  "think",
				Usage: "Thinking effort: off, low, medium, high",
				Value: defaultThink,
			},
			&cli.StringSliceFlag{
				Name:  "mcp",
				Usage: "MCP server config (file.json or file.json#server), can be repeated",
			},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Rego policy for tool calls (default: read-only SQL)",
				Value: defaultPolicy,
			},
			&cli.StringSliceFlag{
				Name:  "cors-origin",
				Usage: "Allowed CORS origin, can be repeated (default: *)",
			},
			&cli.BoolFlag{
				Name:  "route",
				Usage: "Send conversational questions straight to the model",
				Value: defaultRoute,
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
			},
		},
		Action: runServe,
	}
}

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a question and stream the answer",
		ArgsUsage: "<question>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server",
				Usage: "Query server URL",
				Value: defaultServer,
			},
			&cli.StringFlag{
				Name:    "context",
				Aliases: []string{"c"},
				Usage:   "Conversation name the exchange is saved under",
				Value:   defaultContext,
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Print only the answer",
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
			},
		},
		Action: runAsk,
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Manage saved conversations",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List conversations",
				Action: runHistoryList,
			},
			{
				Name:      "show",
				Usage:     "Print a conversation",
				ArgsUsage: "<name>",
				Action:    runHistoryShow,
			},
			{
				Name:      "delete",
				Usage:     "Delete a conversation",
				ArgsUsage: "<name>",
				Action:    runHistoryDelete,
			},
		},
	}
}

func tablesCommand() *cli.Command {
	return &cli.Command{
		Name:  "tables",
		Usage: "List the tables of a database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Usage: "SQLite database",
				Value: defaultDatabase,
			},
		},
		Action: runTables,
	}
}
