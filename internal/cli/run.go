package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewRunCmd создаёт группу команд для управления runs на сервере.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs on the server",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "ENSEMBLE", "STATUS", "TRIGGER", "CREATED", "ERROR"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.Ensemble, r.Status, r.Trigger, r.CreatedAt, r.Error.String()}
			}

			outputFn().Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Ensemble, "ensemble", "", "Filter by ensemble name")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string
	var inputFile string
	var key string
	var async bool

	cmd := &cobra.Command{
		Use:   "start ENSEMBLE",
		Short: "Run an ensemble on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			input, err := ParseInputs(inputs, inputFile)
			if err != nil {
				return err
			}
			req := RunRequest{Input: input, IdempotencyKey: key}

			if async {
				run, err := client.StartRun(cmd.Context(), args[0], req)
				if err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Run queued: %s", run.ID))
				out.Print(
					[]string{"ID", "ENSEMBLE", "STATUS", "CREATED"},
					[][]string{{run.ID, run.Ensemble, run.Status, run.CreatedAt}},
					run,
				)
				return nil
			}

			res, err := client.RunEnsemble(cmd.Context(), args[0], req)
			if res.RunID != "" {
				out.Result(res)
			}
			return err
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable, VALUE parsed as JSON when possible)")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "JSON or YAML file with input values")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "Idempotency key")
	cmd.Flags().BoolVar(&async, "async", false, "Queue the run instead of waiting for the result")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details and step log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			run, err := clientFn().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "ENSEMBLE", "VERSION", "STATUS", "ERROR", "CREATED"},
				[][]string{{run.ID, run.Ensemble, strconv.Itoa(run.Version), run.Status, run.Error.String(), run.CreatedAt}},
				run,
			)
			if !out.jsonMode && len(run.Steps) > 0 {
				fmt.Fprintln(out.w)
				out.Steps(run.Steps)
			}
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().CancelRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Cancellation requested: %s", args[0]))
			return nil
		},
	}
}

// ParseInputs собирает вход run из файла (JSON или YAML) и пар KEY=VALUE.
// VALUE разбирается как JSON (числа, true/false, объекты), иначе остаётся строкой.
// Пары переопределяют значения из файла.
func ParseInputs(pairs []string, file string) (map[string]any, error) {
	input := make(map[string]any)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		if err := yaml.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("parse input file %s: %w", file, err)
		}
	}

	for _, kv := range pairs {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		input[key] = value
	}

	return input, nil
}
