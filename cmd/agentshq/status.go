package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaakkos/agentshq/internal/app"
	"github.com/jaakkos/agentshq/internal/domain"
	"github.com/jaakkos/agentshq/internal/policy"
	"github.com/jaakkos/agentshq/internal/repository"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [project]",
		Short: "Summarize the persisted fleet without starting the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(log.New(os.Stderr, "", 0))
			if err != nil {
				return err
			}
			backend, err := repository.NewStateStore(policy.New(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			records, err := backend.Store.List()
			if err != nil {
				return err
			}
			project := ""
			if len(args) > 0 {
				project = args[0]
			}
			writeStatus(cmd.OutOrStdout(), records, project, time.Now())
			return nil
		},
	}
}

// writeStatus prints one summary line plus one line per agent.
func writeStatus(w io.Writer, records []*domain.AgentState, project string, now time.Time) {
	counts := make(map[domain.Status]int)
	var shown []*domain.AgentState
	for _, rec := range records {
		p := rec.Project
		if p == "" {
			p = app.ProjectName(rec.Cwd)
		}
		if project != "" && p != project {
			continue
		}
		counts[rec.Status]++
		shown = append(shown, rec)
	}
	sort.Slice(shown, func(i, j int) bool { return shown[i].AgentID < shown[j].AgentID })

	_, _ = fmt.Fprintf(w, "active=%d idle=%d offline=%d\n",
		counts[domain.StatusActive], counts[domain.StatusIdle], counts[domain.StatusOffline])
	for _, rec := range shown {
		line := fmt.Sprintf("%-24s %-10s %-8s", rec.AgentID, rec.AgentType, rec.Status)
		if tool := domain.Deref(rec.CurrentTool); tool != "" {
			line += " " + tool
		}
		if !rec.LastActivity.IsZero() {
			line += fmt.Sprintf(" (%s ago)", now.Sub(rec.LastActivity).Truncate(time.Second))
		}
		_, _ = fmt.Fprintln(w, line)
	}
}
