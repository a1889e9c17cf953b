package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/helicone/requestquery/internal/engine"
	"github.com/helicone/requestquery/internal/storage/sqlite"
	"github.com/helicone/requestquery/pkg/types"
)

type compileOptions struct {
	dialect    string
	tenantID   string
	filterPath string
	sortPath   string
	limit      int
	offset     int
	governance bool
}

type compiledOutput struct {
	Dialect   types.Dialect `json:"dialect"`
	Predicate string        `json:"predicate"`
	OrderBy   string        `json:"order_by"`
	Params    []any         `json:"params"`
	Limit     int           `json:"limit"`
	Offset    int           `json:"offset"`
}

func newCompileCmd() *cobra.Command {
	opts := compileOptions{}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Print the predicate, ordering and parameters a query would run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.dialect, "dialect", string(types.DialectRowStore), "row_store, analytical or embedded")
	cmd.Flags().StringVar(&opts.tenantID, "tenant", "", "organization id to scope the query to")
	cmd.Flags().StringVar(&opts.filterPath, "filter", "", "filter JSON file, - for stdin (default all)")
	cmd.Flags().StringVar(&opts.sortPath, "sort", "", "sort JSON file")
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "page size")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "page offset")
	cmd.Flags().BoolVar(&opts.governance, "governance", false, "restrict to governance-flagged requests")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runCompile(stdin io.Reader, out io.Writer, opts compileOptions) error {
	dialect, err := types.ParseDialect(opts.dialect)
	if err != nil {
		return err
	}

	var filter types.Filter = types.All{}
	if opts.filterPath != "" {
		data, err := readInput(stdin, opts.filterPath)
		if err != nil {
			return err
		}
		if filter, err = types.ParseFilter(data); err != nil {
			return err
		}
	}

	var sort types.SortSpec
	if opts.sortPath != "" {
		data, err := readInput(stdin, opts.sortPath)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &sort); err != nil {
			return fmt.Errorf("invalid sort: %w", err)
		}
	}

	e := engine.New(engine.NewExecutor(nil, nil), nil, engine.Config{DefaultDialect: dialect})
	st, err := e.Plan(opts.tenantID, engine.QueryParams{
		Filter:         filter,
		Offset:         opts.offset,
		Limit:          opts.limit,
		Sort:           sort,
		GovernanceOnly: opts.governance,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(compiledOutput{
		Dialect:   st.Dialect,
		Predicate: st.Predicate,
		OrderBy:   st.OrderBy,
		Params:    st.Params,
		Limit:     st.Limit,
		Offset:    st.Offset,
	})
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the embedded store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), sqlite.Schema)
			return err
		},
	}
}
