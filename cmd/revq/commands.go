package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/revq/revq/internal/api"
	"github.com/revq/revq/internal/config"
	"github.com/revq/revq/internal/ingest"
	"github.com/revq/revq/internal/storage"
)

// withStore opens the local database for administrative commands that run
// without the server.
func withStore(fn func(store *storage.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load a review CSV export into the local database",
	Long: `Load a review CSV export into the local database.

The export is one row per product; each row's category list is exploded
so every review lands under every category it belongs to. Rows with a
missing rating, text, or usable category are skipped.

Example:
  revq ingest --csv ./reviews.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("csv")
		if path == "" {
			return fmt.Errorf("--csv is required")
		}

		return withStore(func(store *storage.Store) error {
			printStep("reading %s", path)
			reviews, categories, stats, err := ingest.LoadCSV(path)
			if err != nil {
				return err
			}

			added, err := store.UpsertCategories(categories)
			if err != nil {
				return fmt.Errorf("storing categories: %w", err)
			}
			if err := store.InsertReviews(reviews); err != nil {
				return fmt.Errorf("storing reviews: %w", err)
			}

			printSuccess("ingested %d reviews (%d rows read, %d skipped)", stats.RowsKept, stats.RowsRead, stats.RowsSkipped)
			printStatus("Categories", "%d seen, %d new", stats.Categories, added)
			return nil
		})
	},
}

func init() {
	ingestCmd.Flags().String("csv", "", "path to the review CSV export")
}

// --- user ---

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and category grants",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user and print their API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		role, _ := cmd.Flags().GetString("role")
		if email == "" {
			return fmt.Errorf("--email is required")
		}
		if role != storage.RoleAdmin && role != storage.RoleAnalyst {
			return fmt.Errorf("--role must be %q or %q", storage.RoleAdmin, storage.RoleAnalyst)
		}

		return withStore(func(store *storage.Store) error {
			token := api.NewToken()
			user, err := store.CreateUser(email, role, api.HashToken(token))
			if err != nil {
				return fmt.Errorf("creating user: %w", err)
			}
			printSuccess("created user %d (%s)", user.ID, role)
			printWarning("store this token now, it is not shown again")
			fmt.Println(token)
			return nil
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users and their grants",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store) error {
			users, err := store.ListUsers()
			if err != nil {
				return err
			}
			for _, u := range users {
				scope := "all categories"
				if !u.IsAdmin() {
					cats, err := store.AllowedCategories(u.ID)
					if err != nil {
						return err
					}
					scope = strings.Join(cats, ", ")
					if scope == "" {
						scope = "(none)"
					}
				}
				state := "active"
				if !u.IsActive {
					state = "inactive"
				}
				fmt.Printf("%d\t%s\t%s\t%s\tv%d\t%s\n", u.ID, u.Email, u.Role, state, u.AccessVersion, scope)
			}
			return nil
		})
	},
}

var userGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Replace a user's category grants",
	Long: `Replace a user's category grants.

The grant list replaces the previous one wholesale and bumps the user's
access version, which invalidates their cached results.

Example:
  revq user grant --id 3 --categories "electronics,pet products"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetInt64("id")
		catsStr, _ := cmd.Flags().GetString("categories")
		if id == 0 {
			return fmt.Errorf("--id is required")
		}

		var categories []string
		if catsStr != "" {
			for _, c := range strings.Split(catsStr, ",") {
				if c = strings.TrimSpace(c); c != "" {
					categories = append(categories, c)
				}
			}
		}

		return withStore(func(store *storage.Store) error {
			if err := store.SetUserCategories(id, categories); err != nil {
				return fmt.Errorf("updating grants: %w", err)
			}
			user, err := store.UserByID(id)
			if err != nil {
				return err
			}
			printSuccess("granted %d categories to user %d (access version now %d)", len(categories), id, user.AccessVersion)
			return nil
		})
	},
}

func init() {
	userAddCmd.Flags().String("email", "", "user email")
	userAddCmd.Flags().String("role", storage.RoleAnalyst, "user role (admin or analyst)")
	userGrantCmd.Flags().Int64("id", 0, "user id")
	userGrantCmd.Flags().String("categories", "", "comma-separated category names (empty revokes all)")
}

// --- trace ---

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect audit traces",
}

var traceListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent traces (admin token required)",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/traces?limit="+strconv.Itoa(limit))
		if err != nil {
			return err
		}

		var result struct {
			Traces []storage.Trace `json:"traces"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, t := range result.Traces {
			marker := " "
			if t.IsFallback {
				marker = "F"
			}
			line := fmt.Sprintf("%s  %-9s %s %s", t.CreatedAt.Format("2006-01-02 15:04:05"), t.Verdict, marker, t.UserQuery)
			if t.RejectionReason != "" {
				line += fmt.Sprintf("  [%s]", t.RejectionReason)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	traceListCmd.Flags().Int("limit", 50, "how many traces to show")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question through the running server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, _ := cmd.Flags().GetString("conversation")
		question := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]string{"message": question}
		if conversationID != "" {
			req["conversation_id"] = conversationID
		}
		resp, err := client.post(cmd.Context(), "/v1/chat", req)
		if err != nil {
			return err
		}

		var reply struct {
			ConversationID  string `json:"conversation_id"`
			Answer          string `json:"answer"`
			IsFallback      bool   `json:"is_fallback"`
			RejectionReason string `json:"rejection_reason"`
		}
		if err := decodeJSON(resp, &reply); err != nil {
			return err
		}

		fmt.Println(reply.Answer)
		if reply.IsFallback {
			printWarning("answered with a substitute query (%s)", reply.RejectionReason)
		}
		printStatus("Conversation", "%s", reply.ConversationID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("conversation", "", "conversation id to continue")
}
