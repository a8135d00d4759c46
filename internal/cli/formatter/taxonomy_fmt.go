package formatter

import (
	"strconv"
	"strings"

	"github.com/alexanderramin/defectlens/internal/taxonomy"
)

func FormatDefectTypes(tax *taxonomy.Taxonomy) string {
	var b strings.Builder
	rows := make([][]string, 0, len(tax.DefectTypes()))
	for _, dt := range tax.DefectTypes() {
		rows = append(rows, []string{Bold(string(dt.Code)), dt.Description})
	}
	b.WriteString(RenderTable([]string{"DEFECT TYPE", "DESCRIPTION"}, rows))

	b.WriteString("\n")
	rows = rows[:0]
	for _, s := range tax.Severities() {
		rows = append(rows, []string{SeverityBadge(&s.Code), s.Description})
	}
	b.WriteString(RenderTable([]string{"SEVERITY", "DESCRIPTION"}, rows))
	return b.String()
}

// FormatStages lists production stages in line order.
func FormatStages(tax *taxonomy.Taxonomy) string {
	stages := tax.ProductionStages()
	rows := make([][]string, 0, len(stages))
	for _, st := range stages {
		rows = append(rows, []string{strconv.Itoa(st.Order), Bold(string(st.Code)), st.Name})
	}
	return Table{Headers: []string{"#", "STAGE", "NAME"}, Rows: rows, Right: map[int]bool{0: true}}.Render()
}

func FormatFacilities(tax *taxonomy.Taxonomy) string {
	var b strings.Builder
	for i, f := range tax.Facilities() {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(Header(f.Name) + "\n")
		b.WriteString(Label("Code", string(f.Code)) + "\n")
		b.WriteString(Label("Location", f.Location) + "\n")
		b.WriteString(Label("Role", f.Role) + "\n")
		if f.Capacity != "" {
			b.WriteString(Label("Capacity", f.Capacity) + "\n")
		}
		if f.FloorArea != "" {
			b.WriteString(Label("Floor area", f.FloorArea) + "\n")
		}
		b.WriteString(Bullets(f.Functions))
	}
	return b.String()
}
