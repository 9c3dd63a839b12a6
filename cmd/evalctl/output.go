package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"agents-eval/internal/evaluator"
	"agents-eval/internal/shared/model"
)

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) newTable(headers ...string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.SetStyle(table.StyleRounded)
	row := make(table.Row, len(headers))
	for i, h := range headers {
		row[i] = text.FgHiCyan.Sprint(h)
	}
	t.AppendHeader(row)
	return t
}

// printRuns 输出 Run 列表
func (c *cli) printRuns(runs []*model.Run) error {
	if c.output == "json" {
		if runs == nil {
			runs = []*model.Run{}
		}
		return c.printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(c.out, text.FgYellow.Sprint("No runs found"))
		return nil
	}
	t := c.newTable("ID", "STATUS", "SCENARIO", "PERSONA", "RESULT", "TURNS", "UPDATED")
	for _, r := range runs {
		turns := ""
		if r.Metadata != nil {
			turns = fmt.Sprintf("%d", r.Metadata.Turns)
		}
		t.AppendRow(table.Row{
			r.ID,
			formatStatus(r.Status),
			r.ScenarioID,
			dash(r.PersonaID),
			formatResult(r),
			turns,
			r.UpdatedAt.Format(time.DateTime),
		})
	}
	t.Render()
	fmt.Fprintf(c.out, "\n%s %d\n", text.FgHiBlue.Sprint("Total:"), len(runs))
	return nil
}

// printRun 输出单个 Run 的详情和对话记录
func (c *cli) printRun(r *model.Run) error {
	if c.output == "json" {
		return c.printJSON(r)
	}
	t := c.newTable("FIELD", "VALUE")
	t.AppendRow(table.Row{"id", r.ID})
	t.AppendRow(table.Row{"status", formatStatus(r.Status)})
	t.AppendRow(table.Row{"scenario", r.ScenarioID})
	t.AppendRow(table.Row{"persona", dash(r.PersonaID)})
	t.AppendRow(table.Row{"connector", dash(r.ConnectorID)})
	t.AppendRow(table.Row{"execution", dash(r.ExecutionID)})
	t.AppendRow(table.Row{"thread", dash(r.ThreadID)})
	t.AppendRow(table.Row{"result", formatResult(r)})
	if r.Result != nil && r.Result.Reason != "" {
		t.AppendRow(table.Row{"reason", r.Result.Reason})
	}
	if r.Error != nil {
		t.AppendRow(table.Row{"error", text.FgRed.Sprint(*r.Error)})
	}
	if md := r.Metadata; md != nil {
		t.AppendRow(table.Row{"turns", md.Turns})
		t.AppendRow(table.Row{"termination", dash(string(md.TerminationReason))})
		t.AppendRow(table.Row{"latency_ms", md.LatencyMs})
		t.AppendRow(table.Row{"tokens", fmt.Sprintf("%d in / %d out / %d total", md.TokenUsage.Input, md.TokenUsage.Output, md.TokenUsage.Total)})
	}
	t.Render()

	if r.Metadata != nil && len(r.Metadata.Evaluations) > 0 {
		et := c.newTable("EVALUATOR", "KIND", "OUTCOME", "REASON")
		for _, ev := range r.Metadata.Evaluations {
			et.AppendRow(table.Row{ev.Type, ev.Kind, formatEvaluation(ev), ev.Reason})
		}
		et.Render()
	}

	for _, m := range r.Messages {
		fmt.Fprintf(c.out, "%s %s\n", text.FgHiBlue.Sprintf("[%s]", m.Role), m.Content)
	}
	return nil
}

func (c *cli) printEvaluators(list []evaluator.Info) error {
	if c.output == "json" {
		return c.printJSON(list)
	}
	t := c.newTable("TYPE", "LABEL", "KIND", "BUILTIN", "AUTO")
	for _, info := range list {
		t.AppendRow(table.Row{info.Type, info.Label, info.Kind, info.Builtin, info.Auto})
	}
	t.Render()
	return nil
}

func formatStatus(s model.RunStatus) string {
	switch s {
	case model.RunStatusCompleted:
		return text.FgGreen.Sprint(s)
	case model.RunStatusError:
		return text.FgRed.Sprint(s)
	case model.RunStatusRunning:
		return text.FgYellow.Sprint(s)
	default:
		return string(s)
	}
}

func formatResult(r *model.Run) string {
	if r.Result == nil {
		return "-"
	}
	if r.Result.Success {
		return text.FgGreen.Sprint("pass")
	}
	return text.FgRed.Sprint("fail")
}

func formatEvaluation(ev model.EvaluatorResult) string {
	switch {
	case ev.Error != "":
		return text.FgRed.Sprint("error: " + ev.Error)
	case ev.Passed != nil && *ev.Passed:
		return text.FgGreen.Sprint("pass")
	case ev.Passed != nil:
		return text.FgRed.Sprint("fail")
	case ev.Value != nil:
		return fmt.Sprintf("%.3f", *ev.Value)
	default:
		return "-"
	}
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
