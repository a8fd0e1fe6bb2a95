package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codevec/internal/manager"
	"github.com/dshills/codevec/internal/mcp"
	"github.com/dshills/codevec/internal/searcher"
	"github.com/dshills/codevec/pkg/types"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Start the Model Context Protocol server on stdin/stdout. The index sync
agent and the file watcher run in the background for the lifetime of the
server. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			m, err := a.openManager()
			if err != nil {
				return err
			}
			defer func() { _ = m.Stop() }()
			if err := m.Start(ctx); err != nil {
				return err
			}

			srv := mcp.NewServer(m, a.logger)
			a.logger.Info("MCP server ready, listening on stdio", "version", version, "tools", srv.ToolNames())
			err = srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			a.logger.Info("server stopped")
			return err
		},
	}
}

func (a *app) indexCmd() *cobra.Command {
	var (
		full    bool
		name    string
		exclude []string
	)
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a source tree",
		Long: `Index the source tree at path (default: the current directory). Files
whose modification time and content hash are unchanged since the last run
are skipped unless --full is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := pathArg(args)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			m, err := a.openManager()
			if err != nil {
				return err
			}
			defer func() { _ = m.Stop() }()

			p, res, err := m.IndexProject(ctx, manager.IndexRequest{
				Path:        root,
				Name:        name,
				Incremental: !full,
				Exclude:     exclude,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Indexed %s (%s)\n", p.Path, p.ID)
			fmt.Fprintf(out, "  status:     %s\n", p.Status)
			fmt.Fprintf(out, "  files:      %d total, %d processed, %d skipped, %d failed\n",
				res.TotalFiles, res.FilesProcessed, res.FilesSkipped, res.FilesFailed)
			fmt.Fprintf(out, "  chunks:     %d embedded, %d failed\n", res.ChunksEmbedded, res.ChunksFailed)
			if n := res.Dependencies.Count(); n > 0 {
				fmt.Fprintf(out, "  deps:       %d\n", n)
			}
			fmt.Fprintf(out, "  duration:   %s\n", res.Duration.Round(time.Millisecond))
			if p.Status == types.StatusError {
				return fmt.Errorf("no file in %s could be embedded", p.Path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "re-index every file, clearing previous data")
	cmd.Flags().StringVar(&name, "name", "", "project name (default: directory name)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "additional exclusion patterns")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var (
		project string
		topK    int
		format  string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an indexed project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := projectArg(project)
			if err != nil {
				return err
			}
			m, err := a.openManager()
			if err != nil {
				return err
			}
			defer func() { _ = m.Stop() }()

			resp, err := m.Search(cmd.Context(), ref, strings.Join(args, " "), topK)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				return writeJSON(out, resp.Results)
			}
			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "No results")
				return nil
			}
			for _, r := range resp.Results {
				fmt.Fprintf(out, "%d. %s#%d  score=%.4f  [%s]\n", r.Rank, r.Path, r.ChunkIndex, r.Score, r.Language)
				if format != "compact" {
					fmt.Fprintln(out, indent(r.Content, "    "))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id or path (default: current directory)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", searcher.DefaultTopK, "maximum number of results")
	cmd.Flags().StringVarP(&format, "format", "f", "default", "output format (default, compact, json)")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [project]",
		Short: "Show the status of a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ref string
			if len(args) == 1 {
				ref = args[0]
			}
			ref, err := projectArg(ref)
			if err != nil {
				return err
			}
			m, err := a.openManager()
			if err != nil {
				return err
			}
			defer func() { _ = m.Stop() }()

			st, err := m.Status(cmd.Context(), ref)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			p := st.Project
			fmt.Fprintf(out, "Project:     %s (%s)\n", p.Name, p.ID)
			fmt.Fprintf(out, "Path:        %s\n", p.Path)
			fmt.Fprintf(out, "Database:    %s\n", p.DatabasePath)
			fmt.Fprintf(out, "Status:      %s\n", p.Status)
			fmt.Fprintf(out, "Indexed at:  %s\n", formatTime(p.LastIndexedAt))
			fmt.Fprintf(out, "Files:       %d\n", st.Stats.FileCount)
			fmt.Fprintf(out, "Embeddings:  %d\n", st.Stats.EmbeddingCount)
			if st.Indexing {
				fmt.Fprintln(out, "Indexing:    in progress")
			}
			if len(st.Metadata) > 0 {
				fmt.Fprintln(out, "Metadata:")
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				for _, k := range sortedKeys(st.Metadata) {
					fmt.Fprintf(tw, "  %s\t%s\n", k, st.Metadata[k])
				}
				return tw.Flush()
			}
			return nil
		},
	}
}

func (a *app) projectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List registered projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.openManager()
			if err != nil {
				return err
			}
			defer func() { _ = m.Stop() }()

			projects, err := m.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(projects) == 0 {
				fmt.Fprintln(out, "No projects registered")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tINDEXED\tPATH")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Status, formatTime(p.LastIndexedAt), p.Path)
			}
			return tw.Flush()
		},
	}

	var purge bool
	remove := &cobra.Command{
		Use:   "remove <project>",
		Short: "Unregister a project by id or path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.openManager()
			if err != nil {
				return err
			}
			defer func() { _ = m.Stop() }()

			if err := m.DeleteProject(cmd.Context(), args[0], purge); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
	remove.Flags().BoolVar(&purge, "purge", false, "also delete the project database")
	cmd.AddCommand(remove)
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the sync agent and file watcher until interrupted",
		Long: `Keep every registered project current: changed files are re-indexed
incrementally and stored statuses are reconciled with what is on disk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			m, err := a.openManager()
			if err != nil {
				return err
			}
			if err := m.Start(ctx); err != nil {
				_ = m.Stop()
				return err
			}
			a.logger.Info("watching projects", "projects", len(m.Watcher().WatchedProjects()),
				"interval", m.Watcher().Config().Interval, "sync_interval", m.SyncAgent().Interval())

			<-ctx.Done()
			a.logger.Info("shutting down")
			return m.Stop()
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect codevec configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.cfg.YAML()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.cfg.ConfigFile != "" {
				fmt.Fprintf(out, "# loaded from %s\n", a.cfg.ConfigFile)
			}
			_, err = out.Write(data)
			return err
		},
	})
	return cmd
}

// pathArg returns the absolute form of the optional path argument
func pathArg(args []string) (string, error) {
	if len(args) == 0 {
		return os.Getwd()
	}
	return filepath.Abs(args[0])
}

// projectArg returns ref unchanged, or the working directory when empty
func projectArg(ref string) (string, error) {
	if ref != "" {
		return ref, nil
	}
	return os.Getwd()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
