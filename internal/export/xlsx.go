// Package export writes deal snapshots to spreadsheet files for partners who
// review pipeline outside the triage surface.
package export

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/dealflow/internal/model"
)

var dealHeader = []string{
	"ID", "Name", "URL", "State", "Bucket", "Score", "One-Liner",
	"Funding Stage", "Funding Amount", "Sources", "First Seen", "Last Updated",
}

// WriteXLSX writes the deals to an XLSX workbook at path, one row per deal.
func WriteXLSX(path string, deals []model.Deal) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Deals")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, name := range dealHeader {
		header.AddCell().Value = name
	}

	for i := range deals {
		writeDealRow(sheet.AddRow(), &deals[i])
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func writeDealRow(row *xlsx.Row, d *model.Deal) {
	row.AddCell().Value = d.ID
	row.AddCell().Value = d.Name
	row.AddCell().Value = d.URL
	row.AddCell().Value = string(d.State)
	row.AddCell().Value = string(d.Bucket)

	if d.Score != nil {
		row.AddCell().SetInt(d.Score.Total)
		row.AddCell().Value = d.Score.Summary
	} else {
		row.AddCell().Value = ""
		row.AddCell().Value = ""
	}

	row.AddCell().Value = d.FundingStage
	if d.FundingAmount != nil {
		row.AddCell().SetFloat(*d.FundingAmount)
	} else {
		row.AddCell().Value = ""
	}

	row.AddCell().Value = channelList(d)

	if len(d.Sources) > 0 {
		row.AddCell().Value = d.Sources[0].FirstSeen.Format("2006-01-02")
	} else {
		row.AddCell().Value = d.CreatedAt.Format("2006-01-02")
	}
	row.AddCell().Value = d.UpdatedAt.Format("2006-01-02")
}

func channelList(d *model.Deal) string {
	seen := make(map[model.Channel]bool, len(d.Sources))
	var out []string
	for _, s := range d.Sources {
		if seen[s.Channel] {
			continue
		}
		seen[s.Channel] = true
		out = append(out, string(s.Channel))
	}
	return strings.Join(out, ", ")
}
