// Package main provides missionctl, the operator CLI for a missionsync
// deployment: schema migrations, actor tokens and direct engine calls.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"missionsync/internal/app"
	"missionsync/internal/bootstrap"
	"missionsync/internal/config"
)

// Global flags
var (
	configPath     string
	jsonOutput     bool
	userID         string
	displayName    string
	conversationID string
)

var rootCmd = &cobra.Command{
	Use:   "missionctl",
	Short: "Operate a missionsync deployment",
	Long: `missionctl talks to the same stores as the API server.

Examples:
  missionctl migrate up                                  # Apply pending migrations
  missionctl token --user u-1 --name Ann --conversation c-1
  missionctl mission create --user u-1 --conversation c-1
  missionctl log --user u-1 --conversation c-1 --type MISSION_READY`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("MISSIONSYNC_CONFIG"), "Optional YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "Acting user id")
	rootCmd.PersistentFlags().StringVar(&displayName, "name", "", "Acting user's display name")
	rootCmd.PersistentFlags().StringVar(&conversationID, "conversation", "", "Acting conversation id")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(missionCmd)
	rootCmd.AddCommand(inviteCmd)
	rootCmd.AddCommand(redeemCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(verifyLedgerCmd)
	rootCmd.AddCommand(reindexCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if strings.TrimSpace(configPath) != "" {
		return config.LoadFile(configPath)
	}
	cfg := config.Load()
	return cfg, cfg.Validate()
}

// withRuntime builds the engine, runs fn and closes every connection.
func withRuntime(ctx context.Context, fn func(*bootstrap.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StoreBackend == config.BackendMemory {
		fmt.Fprintln(os.Stderr, "warning: the memory store does not outlive this command")
	}
	rt, err := bootstrap.Build(ctx, cfg, bootstrap.Options{SkipMigrations: true})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func currentActor(ctx context.Context, rt *bootstrap.Runtime) (app.Actor, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(conversationID) == "" {
		return app.Actor{}, fmt.Errorf("--user and --conversation are required")
	}
	actor := app.Actor{UserID: userID, ConversationID: conversationID}
	rt.Service.RememberParticipant(ctx, actor, displayName)
	return actor, nil
}

// printResult writes value as indented JSON when --json is set, otherwise
// the plain text line.
func printResult(value any, text string) error {
	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	}
	fmt.Println(text)
	return nil
}
