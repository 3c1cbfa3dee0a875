// Command pmc is the cobra-based CLI client for pmcd, grounded on the
// teacher's cmd/provisr verb-then-target command tree (spec §6's "CLI"
// section) but talking to the daemon exclusively through pkg/client's
// HTTP Command Surface rather than an in-process manager.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/askucher/pmc/internal/procspec"
	"github.com/askucher/pmc/internal/pmcconfig"
	"github.com/askucher/pmc/pkg/client"
)

const (
	exitOK            = 0
	exitUserError     = 1
	exitDaemonUnreach = 2
	exitInternalError = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		serverName string
		format     string
		lines      int
		watchPaths []string
		shell      string
	)

	root := &cobra.Command{Use: "pmc"}
	root.PersistentFlags().StringVar(&serverName, "server", "", "servers.toml entry to use (default: the one marked default)")
	root.PersistentFlags().StringVar(&format, "format", "default", "output format: default, json, raw")

	newClient := func() (*client.Client, error) {
		return resolveClient(serverName)
	}

	printView := func(v any) {
		if format == "json" {
			b, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(b))
			return
		}
		fmt.Printf("%+v\n", v)
	}

	cmdStart := &cobra.Command{
		Use:   "start <name> <script...>",
		Short: "Start or replace a process",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			spec := procspec.Spec{
				Name:       args[0],
				Script:     joinArgs(args[1:]),
				Shell:      shell,
				WatchPaths: watchPaths,
			}
			view, err := c.Start(spec)
			if err != nil {
				return err
			}
			printView(view)
			return nil
		},
	}
	cmdStart.Flags().StringSliceVar(&watchPaths, "watch", nil, "path to watch for reload (repeatable)")
	cmdStart.Flags().StringVar(&shell, "shell", "", "interpreter to run script through")

	cmdStop := &cobra.Command{
		Use:     "stop <name|all>",
		Aliases: []string{"kill"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.Stop(args[0])
		},
	}

	cmdRemove := &cobra.Command{
		Use:     "remove <name|all>",
		Aliases: []string{"rm", "delete"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.Remove(args[0])
		},
	}

	cmdList := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			views, err := c.List()
			if err != nil {
				return err
			}
			printView(views)
			return nil
		},
	}

	cmdDetails := &cobra.Command{
		Use:     "details <name>",
		Aliases: []string{"info"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			view, err := c.Details(args[0])
			if err != nil {
				return err
			}
			printView(view)
			return nil
		},
	}

	cmdLogs := &cobra.Command{
		Use:  "logs <name>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			out, err := c.LogsTail(args[0], lines)
			if err != nil {
				return err
			}
			for _, l := range out {
				fmt.Printf("[%s] %s\n", l.Stream, l.Text)
			}
			return nil
		},
	}
	cmdLogs.Flags().IntVar(&lines, "lines", 100, "number of lines to show")

	cmdFlush := &cobra.Command{
		Use:     "flush <name|all>",
		Aliases: []string{"clean", "log_rotate"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.Flush(args[0])
		},
	}

	cmdSave := &cobra.Command{
		Use:     "save",
		Aliases: []string{"store"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.Save()
		},
	}

	cmdRestore := &cobra.Command{
		Use:     "restore",
		Aliases: []string{"resurrect"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.Restore()
		},
	}

	cmdDaemon := &cobra.Command{
		Use: "daemon",
	}
	cmdDaemon.AddCommand(&cobra.Command{
		Use: "health",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if !c.Healthy() {
				return fmt.Errorf("daemon unreachable")
			}
			fmt.Println("ok")
			return nil
		},
	})

	root.AddCommand(cmdStart, cmdStop, cmdRemove, cmdList, cmdDetails, cmdLogs, cmdFlush, cmdSave, cmdRestore, cmdDaemon)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pmc:", err)
		var apiErr *client.APIError
		var urlErr *url.Error
		switch {
		case errors.As(err, &apiErr):
			if apiErr.StatusCode == 503 {
				return exitDaemonUnreach
			}
			if apiErr.StatusCode >= 500 {
				return exitInternalError
			}
			return exitUserError
		case errors.As(err, &urlErr):
			return exitDaemonUnreach
		}
		return exitInternalError
	}
	return exitOK
}

func joinArgs(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

func resolveClient(serverName string) (*client.Client, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	configDir := filepath.Join(home, ".pmc")
	entries, err := pmcconfig.LoadServers(filepath.Join(configDir, "servers.toml"))
	if err != nil {
		return nil, err
	}

	var entry pmcconfig.ServerEntry
	if serverName != "" {
		found := false
		for _, e := range entries {
			if e.Name == serverName {
				entry = e
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no server named %q in servers.toml", serverName)
		}
	} else if def, ok := pmcconfig.DefaultServer(entries); ok {
		entry = def
	} else {
		entry = pmcconfig.ServerEntry{URL: "http://127.0.0.1:7777"}
	}

	return client.New(entry.URL, entry.Token, 10*time.Second), nil
}
