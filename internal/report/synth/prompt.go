package synth

import (
	"fmt"
	"strings"

	clusterModels "civicproof/internal/cluster/models"
	feedbackModels "civicproof/internal/feedback/models"
	"civicproof/internal/report/models"
)

const systemPrompt = "You write concise, professional public-sector incident reports. " +
	"Respond with a single JSON object and nothing else."

const outputFormat = `Return exactly this JSON shape, without markdown:
{
  "title": "short report title (max 120 characters)",
  "narrative": "2-4 paragraphs describing the situation, affected area and citizen sentiment",
  "recommendations": ["concrete action for the responsible agency", "..."]
}`

func buildPrompt(key clusterModels.Key, snapshot []*feedbackModels.Feedback, severity models.Severity) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Category: %s\nLocation: %s\nAssessed severity: %s\nNumber of complaints: %d\n\n",
		key.Category, key.Location, severity, len(snapshot))
	sb.WriteString("Complaints, oldest first:\n")
	for i, f := range snapshot {
		fmt.Fprintf(&sb, "%d. reported %s, urgency %s, sentiment %+.2f\n",
			i+1, f.CreatedAt.UTC().Format("2006-01-02 15:04"), f.Urgency, f.Sentiment)
	}
	sb.WriteString("\n")
	sb.WriteString(outputFormat)
	return sb.String()
}
