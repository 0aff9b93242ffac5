package main

import (
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/waypoint/config"
	srv "github.com/mohammad-safakhou/waypoint/internal/server"
	"github.com/spf13/cobra"
)

// summarizeCMD regenerates one session's episodic summary without the HTTP server.
func summarizeCMD() *cobra.Command {
	var userID, sessionID, cfgPath string
	var summarize = &cobra.Command{
		Use:   "summarize",
		Short: "Update the episodic summary of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			comps, err := srv.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer comps.Close()

			summary, err := comps.Summarizer.Update(cmd.Context(), userID, sessionID)
			if err != nil {
				return fmt.Errorf("summarize %s/%s: %w", userID, sessionID, err)
			}
			out, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	summarize.Flags().StringVar(&userID, "user", "", "user id")
	summarize.Flags().StringVar(&sessionID, "session", "", "session id")
	summarize.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	_ = summarize.MarkFlagRequired("user")
	_ = summarize.MarkFlagRequired("session")

	return summarize
}
