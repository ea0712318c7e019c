package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Output печатает данные команд: таблицей или JSON (--json).
// Сообщения для человека идут в errW, чтобы stdout оставался пригодным для pipe.
type Output struct {
	jsonMode bool
	w, errW  io.Writer
}

func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(os.Stdout, os.Stderr, jsonMode)
}

func NewOutputTo(w, errW io.Writer, jsonMode bool) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// Print выводит rows таблицей, а в JSON-режиме — jsonData.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит выровненную таблицу с подчёркнутым заголовком.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	underline := make([]string, len(headers))
	for i, h := range headers {
		underline[i] = strings.Repeat("-", len(h))
	}
	for _, row := range append([][]string{headers, underline}, rows...) {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
}

func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Result выводит итог run: журнал шагов и output (или всё целиком в JSON).
func (o *Output) Result(res *ResultResponse) {
	if o.jsonMode {
		o.JSON(res)
		return
	}

	o.Steps(res.Steps)
	fmt.Fprintln(o.w)
	fmt.Fprintf(o.w, "run %s: %s (%dms)\n", res.RunID, res.Status, res.DurationMs)
	if res.Error != nil {
		fmt.Fprintf(o.w, "error: %s\n", res.Error)
		return
	}
	if res.Output != nil {
		o.JSON(res.Output)
	}
}

// Steps выводит журнал шагов таблицей.
func (o *Output) Steps(steps []StepRecord) {
	headers := []string{"SEQ", "PATH", "TYPE", "STATUS", "ATTEMPTS", "DURATION", "ERROR"}
	rows := make([][]string, len(steps))
	for i, s := range steps {
		attempts := ""
		if s.Attempts > 0 {
			attempts = strconv.Itoa(s.Attempts)
		}
		status := s.Status
		if s.Cached {
			status += " (cached)"
		}
		rows[i] = []string{
			strconv.Itoa(s.Seq), s.Path, s.Type, status, attempts,
			s.FinishedAt.Sub(s.StartedAt).String(), s.Error.String(),
		}
	}
	o.Table(headers, rows)
}

func (o *Output) Success(msg string) { fmt.Fprintln(o.errW, msg) }

func (o *Output) Error(msg string) { fmt.Fprintln(o.errW, "Error: "+msg) }
