package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/wschat/internal/console"
)

var exportOut string

// exportCmd writes the cached conversation as JSON.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the cached chat history as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		a, err := openApp(ctx, loadedCfg)
		if err != nil {
			return err
		}
		defer a.Close()

		snap := a.cache.Export()
		if exportOut == "" {
			return console.EncodeSnapshot(cmd.OutOrStdout(), snap)
		}
		if err := console.WriteExport(exportOut, snap); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d messages to %s\n", len(snap.Messages), exportOut)
		return nil
	},
}

// clearCmd deletes the cached conversation.
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cached chat history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		a, err := openApp(ctx, loadedCfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.cache.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Chat history cleared")
		return nil
	},
}
