package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// printJSON marshals v as indented JSON to stdout.
func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// printYAML marshals v as YAML to stdout.
func printYAML(v any) {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling YAML: %v\n", err)
	}
	_ = enc.Close()
}

// render prints v in the selected output format. In table mode it calls
// tableFn instead.
func render(v any, tableFn func()) {
	switch output {
	case "json":
		printJSON(v)
	case "yaml":
		printYAML(v)
	default:
		tableFn()
	}
}

// writeTable renders rows under headers as a bordered table.
func writeTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("242"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

// mark renders a check or cross.
func mark(ok bool) string {
	if ok {
		return okStyle.Render("✓")
	}
	return badStyle.Render("✗")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// fatalf prints an error message to stderr and exits with code 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
