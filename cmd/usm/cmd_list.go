package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robertheadley/playwright-userscript-manager/internal/catalog"
	"github.com/robertheadley/playwright-userscript-manager/internal/match"
	"github.com/robertheadley/playwright-userscript-manager/internal/userscript"
)

var listURL string

// listCmd prints the catalog, optionally filtered to a URL
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog scripts",
	Long: `Lists the scripts discovered in the configured directory in catalog
order. With --url, only scripts whose patterns cover that URL are shown.`,
	Args: cobra.NoArgs,
	RunE: listScripts,
}

// matchCmd tests a single pattern against a URL
var matchCmd = &cobra.Command{
	Use:   "match [pattern] [url]",
	Short: "Test a match pattern against a URL",
	Args:  cobra.ExactArgs(2),
	RunE:  matchPattern,
}

func init() {
	listCmd.Flags().StringVar(&listURL, "url", "", "Only show scripts matching this URL")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(matchCmd)
}

func listScripts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cat := catalog.Load(cfg.Scripts.Dir, logger)
	if cat.Len() == 0 {
		fmt.Printf("No userscripts found in %s\n", cfg.Scripts.Dir)
		return nil
	}

	if listURL != "" {
		plan := cat.Plan(listURL)
		if plan.Total() == 0 {
			fmt.Printf("No scripts match %s\n", listURL)
			return nil
		}
		printPhase("document-start", plan.Start)
		printPhase("document-end", plan.End)
		printPhase("document-idle", plan.Idle)
		return nil
	}

	for _, sc := range cat.Scripts {
		fmt.Printf("%s (%s)\n", sc.Name, sc.Path)
		fmt.Printf("  run-at: %s\n", sc.RunAt)
		for _, m := range sc.Patterns {
			fmt.Printf("  match:  %s\n", m)
		}
	}
	return nil
}

func printPhase(phase string, scripts []*userscript.Script) {
	if len(scripts) == 0 {
		return
	}
	fmt.Printf("%s:\n", phase)
	for _, sc := range scripts {
		fmt.Printf("  %s (%s)\n", sc.Name, sc.Path)
	}
}

func matchPattern(cmd *cobra.Command, args []string) error {
	pattern, url := args[0], args[1]

	m, err := match.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	if m.Warning != "" {
		fmt.Printf("warning: %s\n", m.Warning)
	}

	if m.Match(url) {
		fmt.Printf("%s matches %s\n", pattern, url)
		return nil
	}
	fmt.Printf("%s does not match %s\n", pattern, url)
	return nil
}
