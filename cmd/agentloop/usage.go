package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentloop/internal/usage"
)

func newUsageCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Print the persisted usage history in human-readable form",
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := usage.LoadHistory(path)
			if err != nil {
				return err
			}

			fmt.Printf("sessions: %d\n", len(history.Sessions))

			providers := make([]string, 0, len(history.Cumulative))
			for name := range history.Cumulative {
				providers = append(providers, name)
			}
			sort.Strings(providers)

			for _, name := range providers {
				stats := history.Cumulative[name]
				line := fmt.Sprintf("%s: %s, %d requests", name, usage.FormatUsageDetailed(&stats.Usage), stats.Requests)
				if cost := usage.FormatUSD(stats.EstimatedCost); cost != "" {
					line += ", " + cost
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "file", "f", "usage.json", "path to the usage history file")
	return cmd
}
