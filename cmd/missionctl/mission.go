package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"missionsync/internal/app"
	"missionsync/internal/auth"
	"missionsync/internal/bootstrap"
	"missionsync/internal/mission"
)

var (
	tokenTTL     time.Duration
	inviteTarget string
	inviteTTL    time.Duration
	logTypes     []string
	logLimit     int
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an actor token for the API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if strings.TrimSpace(userID) == "" || strings.TrimSpace(conversationID) == "" {
			return fmt.Errorf("--user and --conversation are required")
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.TokenTTL
		}
		token, err := auth.IssueToken([]byte(cfg.JWTSecret), userID, displayName, conversationID, ttl)
		if err != nil {
			return err
		}
		return printResult(map[string]any{"token": token, "expiresIn": ttl.String()}, token)
	},
}

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Mission operations",
}

var missionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a mission with the acting conversation as HQ",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
			actor, err := currentActor(cmd.Context(), rt)
			if err != nil {
				return err
			}
			created, err := rt.Service.CreateMission(cmd.Context(), actor)
			if err != nil {
				return err
			}
			return printResult(created, fmt.Sprintf("Mission %s created\nJoin code: %s", created.MissionID, created.JoinCode))
		})
	},
}

var missionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the acting conversation's mission status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
			actor, err := currentActor(cmd.Context(), rt)
			if err != nil {
				return err
			}
			status, err := rt.Service.GetStatus(cmd.Context(), actor)
			if err != nil {
				return err
			}
			text := fmt.Sprintf("%s  %d%%  %d/%d criteria  %d blockers",
				status.State, status.ProgressPercentage, status.CompletedCriteria, status.TotalCriteria, len(status.ActiveBlockers))
			return printResult(status, text)
		})
	},
}

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Issue a single-use field invitation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
			actor, err := currentActor(cmd.Context(), rt)
			if err != nil {
				return err
			}
			issued, err := rt.Service.CreateInvitation(cmd.Context(), actor, app.InvitationInput{TargetUsername: inviteTarget, TTL: inviteTTL})
			if err != nil {
				return err
			}
			return printResult(issued, fmt.Sprintf("%s (expires %s)", issued.Code, issued.Invitation.Expires.Format(time.RFC3339)))
		})
	},
}

var redeemCmd = &cobra.Command{
	Use:   "redeem CODE",
	Short: "Join a mission as a field party",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
			actor, err := currentActor(cmd.Context(), rt)
			if err != nil {
				return err
			}
			binding, err := rt.Service.RedeemInvitation(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			return printResult(binding, fmt.Sprintf("Joined %s as %s", binding.MissionID, binding.Role))
		})
	},
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print the mission audit log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
			actor, err := currentActor(cmd.Context(), rt)
			if err != nil {
				return err
			}
			filter := app.LogFilter{Limit: logLimit}
			for _, raw := range logTypes {
				filter.Types = append(filter.Types, mission.EntryType(strings.ToUpper(raw)))
			}
			entries, err := rt.Service.GetLog(cmd.Context(), actor, filter)
			if err != nil {
				return err
			}
			lines := make([]string, 0, len(entries))
			for _, entry := range entries {
				lines = append(lines, fmt.Sprintf("%s  %-20s %-12s %s",
					entry.Timestamp.Format(time.RFC3339), entry.EntryType, entry.UserName, entry.Message))
			}
			return printResult(entries, strings.Join(lines, "\n"))
		})
	},
}

var verifyLedgerCmd = &cobra.Command{
	Use:   "verify-ledger",
	Short: "Compare the audit log with its git mirror",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
			actor, err := currentActor(cmd.Context(), rt)
			if err != nil {
				return err
			}
			report, err := rt.Service.VerifyLedger(cmd.Context(), actor)
			if err != nil {
				return err
			}
			if err := printResult(report, fmt.Sprintf("ok=%v", report.OK())); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("audit mirror does not match the log")
			}
			return nil
		})
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Push every mission into the search index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
			count, err := rt.Service.ReindexAll(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(map[string]any{"missions": count}, fmt.Sprintf("Reindexed %d missions", count))
		})
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to the configured token TTL)")
	inviteCmd.Flags().StringVar(&inviteTarget, "target", "", "Only this display name may redeem")
	inviteCmd.Flags().DurationVar(&inviteTTL, "ttl", 0, "Invitation lifetime (defaults to the configured invite TTL)")
	logCmd.Flags().StringSliceVar(&logTypes, "type", nil, "Only these entry types")
	logCmd.Flags().IntVar(&logLimit, "limit", 0, "Only the newest N entries")

	missionCmd.AddCommand(missionCreateCmd)
	missionCmd.AddCommand(missionStatusCmd)
}
