package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/mzazilink/backend/core/link"
)

var auditHeader = []string{
	"Time (UTC)", "Action", "Previous Status", "New Status",
	"Performed By", "Role", "Reason", "Details",
}

// NewAuditWorkbook renders an audit trail as a spreadsheet, oldest entry
// first, for compliance reviews.
func NewAuditWorkbook(entries []link.AuditEntry) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "Audit Trail"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, errors.Wrap(err, "renaming sheet")
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, errors.Wrap(err, "creating header style")
	}
	for col, h := range auditHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err = f.SetCellStr(sheet, cell, h); err != nil {
			return nil, errors.Wrap(err, "writing header")
		}
	}
	end, _ := excelize.CoordinatesToCellName(len(auditHeader), 1)
	_ = f.SetCellStyle(sheet, "A1", end, bold)
	_ = f.AutoFilter(sheet, "A1:"+end, nil)

	sorted := make([]link.AuditEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	for r, e := range sorted {
		row := []string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Action,
			string(e.PreviousStatus),
			string(e.NewStatus),
			e.PerformedBy,
			e.PerformedByRole,
			e.Reason.String,
			formatMetadata(e.Metadata),
		}
		for c, val := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err = f.SetCellStr(sheet, cell, val); err != nil {
				return nil, errors.Wrap(err, "writing audit row")
			}
		}
	}
	return f, nil
}

func formatMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, meta[k]))
	}
	return strings.Join(parts, "; ")
}
