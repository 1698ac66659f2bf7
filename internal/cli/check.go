package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alarmpi/tools/internal/console"
	"github.com/alarmpi/tools/internal/requirements"
)

// checkCmd is alarm check.
func checkCmd() *cobra.Command {
	impl := &checkImplConfig{}
	cmd := &cobra.Command{
		GroupID: "profile",
		Use:     "check",
		Short:   "Verify that all programs alarm needs are installed",
		Long: `Verify that all programs alarm needs are installed.

Every missing program is reported, not just the first one.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	return cmd
}

type checkImplConfig struct {
	checker requirements.Checker
}

func (r *checkImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cons := console.New(stdout, stderr)
	cons.Heading("Check requirements")
	if err := r.checker.Check(); err != nil {
		return err
	}
	for _, prog := range r.checker.Programs() {
		fmt.Fprintf(stdout, "  %s\n", prog)
	}
	cons.Info("Requirements OK!")
	return nil
}
