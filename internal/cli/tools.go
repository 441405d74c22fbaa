package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/battle-backend/internal/config"
	"github.com/DoyleJ11/battle-backend/internal/ingress"
	"github.com/DoyleJ11/battle-backend/internal/scoring"
)

func newMigrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the battles table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			if cfg.DatabaseType == config.DatabaseMemory {
				return errors.New("nothing to migrate: DATABASE_TYPE is memory")
			}
			_, closeStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s database\n", cfg.DatabaseType)
			return closeStore()
		},
	}
}

func newScoreCmd() *cobra.Command {
	var opponent string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "score [file]",
		Short: "Score an eight-bar verse read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			text, err := io.ReadAll(in)
			if err != nil {
				return err
			}

			res, err := scoring.ScoreText(string(text), opponent)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintf(out, "rhyme        %3d / %d\n", res.Scores.Rhyme, scoring.MaxRhyme)
			fmt.Fprintf(out, "wordplay     %3d / %d\n", res.Scores.Wordplay, scoring.MaxWordplay)
			fmt.Fprintf(out, "flow         %3d / %d\n", res.Scores.Flow, scoring.MaxFlow)
			fmt.Fprintf(out, "relevance    %3d / %d\n", res.Scores.Relevance, scoring.MaxRelevance)
			fmt.Fprintf(out, "originality  %3d / %d\n", res.Scores.Originality, scoring.MaxOriginality)
			fmt.Fprintf(out, "total        %3d / 100\n", res.Total)
			for _, why := range res.Rationale {
				fmt.Fprintf(out, "  - %s\n", why)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opponent, "opponent", "", "opponent name, used for the relevance score")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newBroadcastCmd(envFile *string) *cobra.Command {
	var server, secret string

	cmd := &cobra.Command{
		Use:   "broadcast <battle-id> <event-json>",
		Short: "Push an event into a battle room through the ingress endpoint",
		Example: `  battle-backend broadcast b1 '{"type":"verse:streaming","personaId":"a","text":"I step","isComplete":false}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" || secret == "" {
				cfg, err := config.Load(*envFile)
				if err != nil {
					return err
				}
				if server == "" {
					server = fmt.Sprintf("http://localhost:%d", cfg.Port)
				}
				if secret == "" {
					secret = cfg.IngressSecret
				}
			}

			var event json.RawMessage
			if err := json.Unmarshal([]byte(strings.TrimSpace(args[1])), &event); err != nil {
				return fmt.Errorf("event is not valid JSON: %w", err)
			}
			if err := ingress.NewClient(server, secret).Broadcast(cmd.Context(), args[0], event); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "accepted")
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server base URL (default http://localhost:$PORT)")
	cmd.Flags().StringVar(&secret, "secret", "", "ingress secret (default $INGRESS_SECRET)")
	return cmd
}
