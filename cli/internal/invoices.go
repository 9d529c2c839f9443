package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invobilled/invobilled/internal/invoices"
)

func newInvoicesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "invoices",
		Aliases: []string{"invoice", "inv"},
		Short:   "Manage invoices",
	}

	cmd.AddCommand(newInvoicesListCommand())
	cmd.AddCommand(newInvoicesSaveCommand())
	cmd.AddCommand(newInvoicesDeleteCommand())
	cmd.AddCommand(newInvoicesSendCommand())

	return cmd
}

func (c *CliContext) invoiceService(cmd *cobra.Command) *invoices.Service {
	notifier := terminalNotifier{out: cmd.OutOrStdout(), err: cmd.ErrOrStderr()}
	return invoices.NewService(c.Client, notifier, invoices.WithLogger(c.Logger))
}

func newInvoicesListCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "list",
		Short:       "List your invoices",
		Annotations: map[string]string{backgroundSync: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			list, err := c.invoiceService(cmd).List(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			printMarkdown(cmd.OutOrStdout(), c.Config, invoicesMarkdown(list))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print invoices as JSON")
	return cmd
}

func newInvoicesSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save FILE",
		Short: "Create or update an invoice from a JSON file ('-' reads stdin)",
		Example: `  invobilled invoices save invoice.json
  cat invoice.json | invobilled invoices save -`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{backgroundSync: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)

			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			var inv invoices.Invoice
			if err := json.Unmarshal(data, &inv); err != nil {
				return fmt.Errorf("failed to parse invoice: %w", err)
			}

			saved, err := c.invoiceService(cmd).Save(cmd.Context(), &inv)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  ID: %s\n", saved.ID)
			return nil
		},
	}
}

func newInvoicesDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "delete ID",
		Short:       "Delete an invoice",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{backgroundSync: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			return c.invoiceService(cmd).Delete(cmd.Context(), args[0])
		},
	}
}

func newInvoicesSendCommand() *cobra.Command {
	var (
		email     string
		pdfPath   string
		invoiceID string
	)

	cmd := &cobra.Command{
		Use:         "send",
		Short:       "Email an invoice PDF",
		Example:     `  invobilled invoices send --email billing@example.com --pdf INV-1.pdf --invoice-id 66a1`,
		Annotations: map[string]string{backgroundSync: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)

			pdf, err := os.ReadFile(pdfPath)
			if err != nil {
				return fmt.Errorf("failed to read PDF: %w", err)
			}

			_, err = c.invoiceService(cmd).Send(cmd.Context(), &invoices.SendRequest{
				Email:     email,
				Filename:  filepath.Base(pdfPath),
				PDF:       pdf,
				InvoiceID: invoiceID,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Recipient email address")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "Path to the invoice PDF")
	cmd.Flags().StringVar(&invoiceID, "invoice-id", "", "ID of the saved invoice (optional)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("pdf")

	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
