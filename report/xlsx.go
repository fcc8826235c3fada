// Package report exports run data for humans: the review queue as an
// XLSX workbook that clinical staff can work through outside the service.
package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"clinsum/store"
)

const reviewSheet = "Review Queue"

var reviewHeader = []any{
	"Run ID", "Filename", "Format", "Pages", "Source Chars",
	"State", "Best Attempt", "Retry Count",
	"Composite", "Length Score", "Alignment Score",
	"Created At",
}

// ReviewQueueWorkbook builds the review-queue workbook in memory, one row
// per flagged run, ordered as given. The caller owns closing the file.
func ReviewQueueWorkbook(runs []store.Run) (*excelize.File, error) {
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", reviewSheet)

	if err := f.SetSheetRow(reviewSheet, "A1", &reviewHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing header: %w", err)
	}

	for i, r := range runs {
		row := []any{
			r.ID, r.Filename, r.Format, r.Pages, r.SourceChars,
			r.State, r.BestAttempt, r.RetryCount,
			r.Composite, r.LengthScore, r.AlignmentScore,
			r.CreatedAt,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(reviewSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}
	return f, nil
}

// WriteReviewQueue writes the review queue to an XLSX file at path.
func WriteReviewQueue(path string, runs []store.Run) error {
	f, err := ReviewQueueWorkbook(runs)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}
