package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/Ensemble/internal/catalog"
)

// NewEnsembleCmd создаёт группу команд для ensemble на сервере.
func NewEnsembleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ensemble",
		Aliases: []string{"ens"},
		Short:   "Manage ensembles on the server",
	}

	cmd.AddCommand(
		newEnsembleListCmd(clientFn, outputFn),
		newEnsembleShowCmd(clientFn, outputFn),
		newEnsemblePushCmd(clientFn, outputFn),
		newEnsembleCheckCmd(clientFn, outputFn),
	)

	return cmd
}

func newEnsembleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ensembles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ensembles, err := clientFn().ListEnsembles(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"NAME", "VERSION", "STEPS", "INPUTS", "DESCRIPTION"}
			rows := make([][]string, len(ensembles))
			for i, e := range ensembles {
				rows[i] = []string{e.Name, strconv.Itoa(e.Version), strconv.Itoa(e.Steps), strings.Join(e.Inputs, ","), e.Description}
			}

			outputFn().Print(headers, rows, ensembles)
			return nil
		},
	}
}

func newEnsembleShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show the full ensemble descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ens, err := clientFn().GetEnsemble(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outputFn().JSON(ens)
			return nil
		},
	}
}

func newEnsemblePushCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "push FILE",
		Short: "Store a new version of an ensemble file on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, contentType, err := readDescriptor(args[0])
			if err != nil {
				return err
			}

			saved, err := clientFn().PushEnsemble(cmd.Context(), data, contentType)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Ensemble saved: %s (version %d)", saved.Name, saved.Version))
			return nil
		},
	}
}

func newEnsembleCheckCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "check FILE",
		Short: "Validate an ensemble file against the server agent registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, contentType, err := readDescriptor(args[0])
			if err != nil {
				return err
			}

			if err := clientFn().CheckEnsemble(cmd.Context(), data, contentType); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("%s: ok", args[0]))
			return nil
		},
	}
}

// NewTriggersCmd создаёт команду со списком cron-триггеров сервера.
func NewTriggersCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "triggers",
		Short: "List cron triggers registered on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := clientFn().ListTriggers(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"ENSEMBLE", "TRIGGER", "SPEC", "NEXT"}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{e.Ensemble, strconv.Itoa(e.Trigger), e.Spec, e.Next}
			}

			outputFn().Print(headers, rows, entries)
			return nil
		},
	}
}

// readDescriptor читает файл описания и определяет Content-Type по расширению.
func readDescriptor(path string) ([]byte, string, error) {
	format, err := catalog.FormatOf(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	if format == catalog.FormatYAML {
		return data, "application/yaml", nil
	}
	return data, "application/json", nil
}
