package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/akarpov/earshot/internal/config"
)

// --- summarize ---

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Trigger a summarization tick now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/admin/summarize", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Summarization tick %s", result["status"])
		return nil
	},
}

// --- backlog ---

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Show fragments waiting to be summarized",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/admin/backlog?limit=%d", limit))
		if err != nil {
			return err
		}

		var backlog struct {
			ByUser []struct {
				UserID  string `json:"user_id"`
				Pending int    `json:"pending"`
			} `json:"backlog_by_user"`
			Pending []struct {
				ID        string `json:"id"`
				UserID    string `json:"user_id"`
				Speaker   string `json:"speaker"`
				Text      string `json:"text"`
				Timestamp string `json:"timestamp"`
				Locked    bool   `json:"locked"`
				Attempts  int    `json:"attempts"`
			} `json:"pending_fragments"`
		}
		if err := decodeJSON(resp, &backlog); err != nil {
			return err
		}

		if len(backlog.ByUser) == 0 {
			fmt.Println("Backlog is empty.")
			return nil
		}

		for _, b := range backlog.ByUser {
			printStatus(b.UserID, "%d pending", b.Pending)
		}

		for _, f := range backlog.Pending {
			text := f.Text
			if len(text) > 80 {
				text = text[:80] + "..."
			}
			state := ""
			if f.Locked {
				state = " [locked]"
			}
			if f.Attempts > 0 {
				state += fmt.Sprintf(" [attempts: %d]", f.Attempts)
			}
			fmt.Printf("%s  %s%s  %s\n",
				colorize(colorCyan, f.ID[:8]),
				f.Timestamp,
				state,
				text,
			)
		}
		return nil
	},
}

func init() {
	backlogCmd.Flags().Int("limit", 20, "maximum number of pending fragments to list")
}

// --- summaries ---

var summariesCmd = &cobra.Command{
	Use:   "summaries",
	Short: "List recent summaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/summaries?limit=%d", limit))
		if err != nil {
			return err
		}

		var summaries []struct {
			ID           string   `json:"id"`
			Headline     string   `json:"headline"`
			BulletPoints []string `json:"bullet_points"`
			Tag          string   `json:"tag"`
			FactChecks   []string `json:"fact_checks"`
			Timestamp    string   `json:"timestamp"`
		}
		if err := decodeJSON(resp, &summaries); err != nil {
			return err
		}

		if len(summaries) == 0 {
			fmt.Println("No summaries yet.")
			return nil
		}

		for _, s := range summaries {
			header := s.Headline
			if s.Tag != "" {
				header += " #" + s.Tag
			}
			ts := s.Timestamp
			if t, err := time.Parse(time.RFC3339, s.Timestamp); err == nil {
				ts = t.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("\n%s  %s  %s\n", colorize(colorCyan, s.ID[:8]), ts, colorize(colorBold, header))
			for _, p := range s.BulletPoints {
				fmt.Printf("  - %s\n", p)
			}
			for _, fc := range s.FactChecks {
				fmt.Printf("  %s %s\n", colorize(colorYellow, "!"), fc)
			}
		}
		return nil
	},
}

func init() {
	summariesCmd.Flags().Int("limit", 10, "maximum number of summaries to list")
}

// --- user ---

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage registered users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <uid>",
	Short: "Register a device uid as a known user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		timezone, _ := cmd.Flags().GetString("timezone")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"uid": args[0]}
		if email != "" {
			body["email"] = email
		}
		if timezone != "" {
			body["timezone"] = timezone
		}

		resp, err := client.post(cmd.Context(), "/admin/users", body)
		if err != nil {
			return err
		}

		var user struct {
			ID  string `json:"id"`
			UID string `json:"uid"`
		}
		if err := decodeJSON(resp, &user); err != nil {
			return err
		}

		printSuccess("Registered user %s (uid %s)", user.ID, user.UID)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/admin/users")
		if err != nil {
			return err
		}

		var users []struct {
			ID       string `json:"id"`
			UID      string `json:"uid"`
			Email    string `json:"email"`
			Timezone string `json:"timezone"`
		}
		if err := decodeJSON(resp, &users); err != nil {
			return err
		}

		if len(users) == 0 {
			fmt.Println("No users registered.")
			return nil
		}

		for _, u := range users {
			line := u.UID
			if u.Email != "" {
				line += "  " + u.Email
			}
			if u.Timezone != "" {
				line += "  " + u.Timezone
			}
			fmt.Printf("%s  %s\n", colorize(colorCyan, u.ID[:8]), line)
		}
		return nil
	},
}

func init() {
	userAddCmd.Flags().String("email", "", "email address for the user")
	userAddCmd.Flags().String("timezone", "", "IANA timezone for daily note export (default America/Los_Angeles)")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
