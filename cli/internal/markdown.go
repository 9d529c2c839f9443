package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/invobilled/invobilled/internal/invoices"
)

// renderMarkdown renders markdown content, using glamour for terminal output or plain text otherwise
func renderMarkdown(markdown string, theme string, isTerminal bool) string {
	if !isTerminal {
		return markdown
	}

	rendered, err := glamour.Render(markdown, theme)
	if err != nil {
		// Fall back to plain markdown if rendering fails
		return markdown
	}
	return rendered
}

// printMarkdown renders and prints markdown using the configured theme
func printMarkdown(out io.Writer, config *Config, markdown string) {
	isTerminal := false
	if f, ok := out.(*os.File); ok {
		isTerminal = term.IsTerminal(int(f.Fd()))
	}
	fmt.Fprint(out, renderMarkdown(markdown, getTheme(config), isTerminal))
}

// getTheme returns the theme from the current context, or "auto" if config is unavailable
func getTheme(config *Config) string {
	if config == nil {
		return "auto"
	}

	ctx, err := config.GetCurrentContext()
	if err != nil || ctx.Rendering.Theme == "" {
		return "auto"
	}

	return ctx.Rendering.Theme
}

// invoicesMarkdown formats invoices as a markdown table
func invoicesMarkdown(list []invoices.Invoice) string {
	if len(list) == 0 {
		return "_No invoices yet._\n"
	}

	var b strings.Builder
	b.WriteString("| ID | Number | Title | Billed To | Date | Due | Total |\n")
	b.WriteString("|----|--------|-------|-----------|------|-----|------:|\n")
	for _, inv := range list {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %.2f |\n",
			cell(inv.ID),
			cell(inv.Invoice.Number),
			cell(inv.Title),
			cell(inv.Billing.Name),
			cell(inv.Invoice.Date),
			cell(inv.Invoice.DueDate),
			inv.Total(),
		)
	}
	fmt.Fprintf(&b, "\n%d invoice(s)\n", len(list))
	return b.String()
}

// cell escapes text for a markdown table cell
func cell(s string) string {
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
