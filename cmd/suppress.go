package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-qualifier/internal/filter"
	"github.com/sells-group/lead-qualifier/internal/model"
)

var suppressCmd = &cobra.Command{
	Use:   "suppress",
	Short: "Manage the suppression list",
	Long:  "Suppressed companies are rejected by the filter chain before any external check runs.",
}

// -- suppress add --

var suppressAddCmd = &cobra.Command{
	Use:   "add <company-name>",
	Short: "Suppress a single company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reason, _ := cmd.Flags().GetString("reason")
		by, _ := cmd.Flags().GetString("by")

		rec, err := filter.NewSuppression(args[0], reason, by)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpsertSuppression(ctx, rec); err != nil {
			return eris.Wrap(err, "suppress add")
		}
		fmt.Fprintf(os.Stdout, "Suppressed %q (key %s)\n", rec.Name, rec.Key)
		return nil
	},
}

// -- suppress import --

var suppressImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import suppressions from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		by, _ := cmd.Flags().GetString("by")

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open suppression file")
		}
		defer f.Close() //nolint:errcheck

		recs, err := parseSuppressionFile(f, by)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ImportSuppressions(ctx, recs)
		if err != nil {
			return eris.Wrap(err, "suppress import")
		}
		fmt.Fprintf(os.Stdout, "Imported %d suppressions.\n", n)
		return nil
	},
}

// suppressionFile is the import format:
//
//	created_by: ops
//	suppressions:
//	  - name: Acme Widgets Ltd
//	    reason: existing customer
type suppressionFile struct {
	CreatedBy    string             `yaml:"created_by"`
	Suppressions []suppressionEntry `yaml:"suppressions"`
}

type suppressionEntry struct {
	Name   string `yaml:"name"`
	Reason string `yaml:"reason"`
}

// parseSuppressionFile decodes and validates an import file. createdBy
// overrides the file's created_by when set.
func parseSuppressionFile(r io.Reader, createdBy string) ([]model.SuppressionRecord, error) {
	var file suppressionFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("suppression file is empty")
		}
		return nil, eris.Wrap(err, "decode suppression file")
	}
	if createdBy == "" {
		createdBy = file.CreatedBy
	}

	recs := make([]model.SuppressionRecord, 0, len(file.Suppressions))
	for i, e := range file.Suppressions {
		rec, err := filter.NewSuppression(e.Name, e.Reason, createdBy)
		if err != nil {
			return nil, eris.Wrapf(err, "suppression %d", i+1)
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil, eris.New("suppression file has no entries")
	}
	return recs, nil
}

func init() {
	suppressAddCmd.Flags().String("reason", "", "why the company is suppressed")
	suppressAddCmd.Flags().String("by", "", "who suppressed it (default system)")
	suppressImportCmd.Flags().String("by", "", "who imported the list (overrides created_by in the file)")
	suppressCmd.AddCommand(suppressAddCmd, suppressImportCmd)
	rootCmd.AddCommand(suppressCmd)
}
