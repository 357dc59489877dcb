package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spendgate/internal/config"
	"github.com/ppiankov/spendgate/internal/directory"
	"github.com/ppiankov/spendgate/internal/policy"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap spendgate configuration",
	Long: `Creates ~/.spendgate/ with a commented config, the default approval
rules and a sample user directory.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := config.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	files := []struct {
		name    string
		content string
	}{
		{"config.yaml", config.DefaultYAML()},
		{"rules.yaml", policy.DefaultConfigYAML()},
		{"directory.yaml", directory.DefaultYAML()},
	}

	var created []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		wrote, err := writeIfMissing(path, f.content)
		if err != nil {
			return err
		}
		if wrote {
			created = append(created, path)
		}
	}

	w := os.Stdout
	fmt.Fprintln(w, "spendgate init complete.")
	fmt.Fprintln(w)
	if len(created) > 0 {
		fmt.Fprintln(w, "Created:")
		for _, path := range created {
			fmt.Fprintf(w, "  %s\n", path)
		}
	} else {
		fmt.Fprintln(w, "All files already exist (use --force to overwrite).")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Check the rules:")
	fmt.Fprintln(w, "  spendgate rules validate")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Try a submission:")
	fmt.Fprintln(w, "  spendgate submit --as eli --amount 250 --category Travel -d \"Train to client\"")
	fmt.Fprintln(w, "  spendgate pending --as maria")
	return nil
}

// writeIfMissing writes content to path unless the file exists and --force is not set.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
