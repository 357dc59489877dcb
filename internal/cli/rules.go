package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spendgate/internal/config"
	"github.com/ppiankov/spendgate/internal/policy"
)

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesValidateCmd)
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect approval rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in evaluation order",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check a rules file and report every problem",
	Long:  "Validates every rule and the fallback. Exits 1 when anything is wrong.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRulesValidate,
}

// rulesPath returns the explicit path, or the one from config.
func rulesPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.RulesPath, nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	path, err := rulesPath(nil)
	if err != nil {
		return err
	}
	pcfg, hash, err := policy.LoadConfigWithHash(path)
	if err != nil {
		return err
	}
	set, err := pcfg.RuleSet()
	if err != nil {
		return fmt.Errorf("rules %s: %w", path, err)
	}
	rules := set.Rules()

	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, map[string]any{
			"path":        path,
			"policy_hash": hash,
			"rules":       rules,
			"fallback":    pcfg.Fallback,
		})
	}

	fmt.Fprintf(w, "Rules: %s (%s)\n\n", path, hash)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tNAME\tACTIVE\tRESOLUTION\tAPPROVERS")
	for i, r := range rules {
		approvers := make([]string, len(r.Approvers))
		for j, a := range r.Approvers {
			approvers[j] = a.Approver
			if !a.Required {
				approvers[j] += "?"
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\n", i+1, r.ID, r.Name, r.Active, r.Resolution.Type, strings.Join(approvers, " > "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nNo match: approver=%s, unassigned=%s\n", pcfg.Fallback.Approver, pcfg.Fallback.Unassigned)
	return nil
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	path, err := rulesPath(args)
	if err != nil {
		return err
	}
	pcfg, _, err := policy.LoadConfigWithHash(path)
	if err != nil {
		return err
	}
	if _, err := pcfg.RuleSet(); err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %s\n", path)
		var v policy.Violations
		if errors.As(err, &v) {
			for _, p := range v {
				fmt.Fprintf(os.Stderr, "  - %s\n", p)
			}
		} else {
			fmt.Fprintf(os.Stderr, "  - %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %d rules in %s\n", len(pcfg.Rules), path)
	return nil
}
