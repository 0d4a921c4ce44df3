package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/MrEthical07/loginhook"
)

var (
	headerStyle  = color.New(color.FgCyan, color.Bold)
	successStyle = color.New(color.FgGreen)
	warningStyle = color.New(color.FgYellow, color.Bold)
	errorStyle   = color.New(color.FgRed, color.Bold)
	dimStyle     = color.New(color.Faint)
)

func outcomeStyle(o loginhook.Outcome) *color.Color {
	switch o {
	case loginhook.OutcomeSucceeded:
		return successStyle
	case loginhook.OutcomeDegraded:
		return warningStyle
	case loginhook.OutcomeBlocked:
		return errorStyle
	default:
		return dimStyle
	}
}

func printResult(w io.Writer, res loginhook.Result, notices []string) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Sprint("outcome:"), outcomeStyle(res.Outcome).Sprint(res.Outcome))
	if res.Reason != loginhook.SkipNone {
		fmt.Fprintf(w, "  reason:   %s\n", res.Reason)
	}
	fmt.Fprintf(w, "  attempt:  %s\n", res.AttemptID)
	fmt.Fprintf(w, "  scope:    %s\n", res.Scope)
	if res.Database != "" {
		fmt.Fprintf(w, "  database: %s\n", res.Database)
	}
	if res.User != "" {
		fmt.Fprintf(w, "  user:     %s\n", res.User)
	}
	if res.HookError != nil {
		fmt.Fprintf(w, "  error:    %s\n", errorStyle.Sprint(res.HookError.Error()))
		if res.HookError.Detail != "" {
			fmt.Fprintf(w, "  detail:   %s\n", firstLine(res.HookError.Detail))
		}
		if res.HookError.Hint != "" {
			fmt.Fprintf(w, "  hint:     %s\n", res.HookError.Hint)
		}
		fmt.Fprintf(w, "  rolled back: %t\n", res.RolledBack)
	}
	for _, n := range notices {
		fmt.Fprintf(w, "%s %s\n", dimStyle.Sprint("NOTICE:"), n)
	}
	fmt.Fprintf(w, "  duration: %s\n", res.Duration)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
