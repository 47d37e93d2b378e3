package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Lllllllleong/emailnfewarehouse/internal/models"
	"github.com/Lllllllleong/emailnfewarehouse/internal/nfe"
	"github.com/spf13/cobra"
)

type inspection struct {
	File   string                `json:"file"`
	Kind   string                `json:"kind"`
	Reason string                `json:"reason,omitempty"`
	Header *models.InvoiceHeader `json:"header,omitempty"`
	Lines  []models.InvoiceLine  `json:"lines,omitempty"`
}

func inspectCmd() *cobra.Command {
	var timezone string
	cmd := &cobra.Command{
		Use:   "inspect [file...]",
		Short: "Show the warehouse rows a local XML document would produce",
		Long: `Parse and extract local NFe / NFSe XML files without touching the
mailbox or the warehouse. Use "-" to read standard input.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := time.LoadLocation(timezone)
			if err != nil {
				return fmt.Errorf("invalid timezone %q: %w", timezone, err)
			}
			batchSeq := nfe.BatchSequence(time.Now(), loc)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, file := range args {
				out, err := inspectFile(cmd.InOrStdin(), file, batchSeq)
				if err != nil {
					return err
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&timezone, "timezone", "America/Sao_Paulo", "Timezone of the batch sequence")
	return cmd
}

func inspectFile(stdin io.Reader, file string, batchSeq float64) (*inspection, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}

	doc, err := nfe.Parse(data, file)
	if err != nil {
		return nil, err
	}
	rec, kind, err := nfe.ExtractDocument(doc, slog.Default())
	out := &inspection{File: file, Kind: kind.String()}
	if err != nil {
		out.Reason = err.Error()
		return out, nil
	}
	rec.Stamp(batchSeq)
	out.Header = &rec.Header
	out.Lines = rec.Lines
	return out, nil
}
