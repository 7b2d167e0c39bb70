package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloo-solutions/ragdesk/internal/cli"
	"github.com/cloo-solutions/ragdesk/internal/cli/client"
	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/cloo-solutions/ragdesk/internal/service"
	"github.com/spf13/cobra"
)

// AskCmd returns the ask command
func AskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "ask <question>",
		Short:       "Answer a question from the indexed documents",
		Args:        cobra.MinimumNArgs(1),
		RunE:        runAsk,
		Annotations: map[string]string{cli.EnvAnnotation: "DATABASE_URL,OPENAI_API_KEY,INDEX_NAME,TOP_K,CHAT_MODEL"},
	}

	cmd.Flags().Bool("json", false, "Output the answer and sources as JSON")
	cmd.Flags().Bool("sources", false, "Print the sources the answer was built from")
	client.AddServerFlag(cmd)

	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	question := strings.Join(args, " ")
	asJSON, _ := cmd.Flags().GetBool("json")
	showSources, _ := cmd.Flags().GetBool("sources")

	if url := client.ServerURL(cmd); url != "" {
		resp, err := client.NewAPIClient(url).Read(ctx, question)
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.State != "" {
				return fmt.Errorf("query failed at %s: %s", apiErr.State, apiErr.Message)
			}
			return err
		}
		return printAnswer(cmd, &service.QueryResult{
			Answer:  resp.Answer,
			Found:   resp.Found,
			Sources: resp.Sources,
		}, asJSON, showSources)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.query.Ask(ctx, question)
	if err != nil {
		var pe *domain.PipelineError
		if errors.As(err, &pe) {
			return fmt.Errorf("query failed at %s: %w", pe.State, pe.Err)
		}
		return err
	}

	return printAnswer(cmd, result, asJSON, showSources)
}

func printAnswer(cmd *cobra.Command, result *service.QueryResult, asJSON, showSources bool) error {
	out := cmd.OutOrStdout()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"answer":  result.Answer,
			"found":   result.Found,
			"sources": result.Sources,
		})
	}

	fmt.Fprintln(out, result.Answer)
	if showSources && len(result.Sources) > 0 {
		fmt.Fprintln(out)
		for _, s := range result.Sources {
			fmt.Fprintf(out, "  %.3f  %s\n", s.Score, s.SourcePath)
		}
	}
	return nil
}
