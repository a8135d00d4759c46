package formatter

import (
	"fmt"
	"strings"

	"github.com/alexanderramin/defectlens/internal/domain"
)

const confidenceBarWidth = 16

// FormatRecord renders one defect analysis record as a boxed card.
func FormatRecord(rec *domain.DefectAnalysisRecord) string {
	var b strings.Builder

	b.WriteString(Bold(rec.DefectID) + "  " + Dim(rec.Timestamp.UTC().Format("2006-01-02 15:04:05Z")) + "\n\n")
	b.WriteString(Label("SKU", rec.ProductSKU) + "\n")
	b.WriteString(Label("Facility", string(rec.Facility)) + "\n")
	if rec.ImageRef != "" {
		b.WriteString(Label("Image", rec.ImageRef) + "\n")
	}
	b.WriteString("\n")

	if !rec.DefectDetected {
		b.WriteString(StyleGreen.Render("✔ No defect detected") + "\n")
		b.WriteString(Label("Confidence", ConfidenceBar(rec.Confidence, confidenceBarWidth)) + "\n")
		if rec.Description != "" {
			b.WriteString("\n" + rec.Description + "\n")
		}
		writeFooter(&b, rec)
		return RenderBox("Defect analysis", b.String())
	}

	b.WriteString(SeverityBadge(rec.Severity) + "  " + Bold(OrDash(Deref(rec.DefectType))) + "\n")
	b.WriteString(Label("Confidence", ConfidenceBar(rec.Confidence, confidenceBarWidth)) + "\n")
	b.WriteString(Label("Area", OrDash(Deref(rec.AffectedArea))) + "\n")
	if bb := rec.BoundingBox; bb != nil {
		b.WriteString(Label("Location", fmt.Sprintf("x=%d y=%d w=%d h=%d", bb.X, bb.Y, bb.Width, bb.Height)) + "\n")
	}
	b.WriteString(Label("Stage", OrDash(Deref(rec.ProbableStage))) + "\n")
	if rec.Description != "" {
		b.WriteString("\n" + rec.Description + "\n")
	}

	if rec.RootCause != nil {
		b.WriteString("\n" + Header("Root cause") + "\n")
		b.WriteString(*rec.RootCause + "\n")
	}
	if len(rec.FiveWhyChain) > 0 {
		b.WriteString("\n" + Header("Five whys") + "\n")
		b.WriteString(Numbered(rec.FiveWhyChain))
	}
	if ishikawa := ishikawaLines(rec.IshikawaAnalysis); ishikawa != "" {
		b.WriteString("\n" + Header("Ishikawa") + "\n")
		b.WriteString(ishikawa)
	}
	if len(rec.ContributingFactors) > 0 {
		b.WriteString("\n" + Header("Contributing factors") + "\n")
		b.WriteString(Bullets(rec.ContributingFactors))
	}
	if len(rec.CorrectiveActions) > 0 {
		b.WriteString("\n" + Header("Corrective actions") + "\n")
		b.WriteString(Bullets(rec.CorrectiveActions))
	}
	if len(rec.PreventiveActions) > 0 {
		b.WriteString("\n" + Header("Preventive actions") + "\n")
		b.WriteString(Bullets(rec.PreventiveActions))
	}
	if rec.EscalationRequired {
		b.WriteString("\n" + StyleRed.Render("▲ ESCALATION REQUIRED"))
		if rec.EscalationReason != "" {
			b.WriteString(StyleRed.Render(": " + rec.EscalationReason))
		}
		b.WriteString("\n")
	}

	writeFooter(&b, rec)
	return RenderBox("Defect analysis", b.String())
}

func writeFooter(b *strings.Builder, rec *domain.DefectAnalysisRecord) {
	b.WriteString("\n" + Dim(fmt.Sprintf("model %s · %s reasoning tokens", rec.ModelVersion, Tokens(rec.ReasoningTokensUsed))) + "\n")
}

// ishikawaLines lists the populated fishbone categories in canonical order.
func ishikawaLines(m map[domain.IshikawaCategory]*string) string {
	var b strings.Builder
	for _, cat := range domain.IshikawaCategories {
		v := m[cat]
		if v == nil || strings.TrimSpace(*v) == "" {
			continue
		}
		b.WriteString(Label(string(cat), *v) + "\n")
	}
	return b.String()
}
