package flow

import (
	"fmt"
	"strings"

	"github.com/courierdev/courier/internal/ability"
	"github.com/courierdev/courier/internal/backend"
)

// classificationGuidance builds the system guidance for the first
// classification call: the abilities context plus the routing instruction.
func classificationGuidance(rules *ability.Set) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant with access to these abilities:\n")
	for _, r := range rules.Rules() {
		if r.ExactOnly() {
			continue
		}
		desc := r.Description
		if desc == "" {
			desc = r.BackendID
		}
		fmt.Fprintf(&b, "- %s: %s\n", r.Keyword, desc)
	}
	b.WriteString("\nIf the request is best served by one of these abilities, reply with " +
		"the ability keyword as the entire first line, optionally followed by the " +
		"input the ability needs on the same line. Otherwise just answer the " +
		"request directly.")
	return b.String()
}

// refinementGuidance deliberately carries no routing instructions so a
// refinement reply can never re-trigger ability routing.
const refinementGuidance = "You are a helpful assistant. Use the external data block in the " +
	"request to answer conversationally. Do not mention the data block itself."

// parameterGuidance asks for a bare parameter value and nothing else.
func parameterGuidance(rule ability.Rule) string {
	return fmt.Sprintf("Extract the %s the user is asking about from their message. "+
		"Reply with only that value, nothing else.",
		strings.Join(rule.Params.Required, " and "))
}

// formatExternalData renders a structured backend result as the tagged data
// block fed into a refinement call. This is the one place result kinds are
// consumed, so the switch is exhaustive.
func formatExternalData(backendID string, res backend.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s data]\n", backendID)
	switch res.Kind {
	case backend.KindText:
		b.WriteString(res.Text)
	case backend.KindImage:
		if res.Image != nil {
			fmt.Fprintf(&b, "generated image %s for prompt: %s", res.Image.StorageKey, res.Image.Prompt)
		}
	case backend.KindWeather:
		if w := res.Weather; w != nil {
			fmt.Fprintf(&b, "location: %s\ncondition: %s\ntemperature: %.1fC / %.1fF\nhumidity: %d%%\nwind: %.1f kph\n",
				w.Location, w.Condition, w.TempC, w.TempF, w.Humidity, w.WindKph)
			for _, day := range w.Forecast {
				fmt.Fprintf(&b, "forecast %s: %s, %.1fC to %.1fC\n", day.Date, day.Condition, day.MinTempC, day.MaxTempC)
			}
		}
	case backend.KindScores:
		if s := res.Scores; s != nil {
			fmt.Fprintf(&b, "league: %s\n", s.League)
			for _, g := range s.Games {
				fmt.Fprintf(&b, "%s %d - %s %d (%s)\n", g.AwayTeam, g.AwayScore, g.HomeTeam, g.HomeScore, g.Status)
			}
		}
	case backend.KindSearch:
		if s := res.Search; s != nil {
			fmt.Fprintf(&b, "query: %s\n", s.Query)
			for i, hit := range s.Results {
				fmt.Fprintf(&b, "%d. %s - %s\n   %s\n", i+1, hit.Title, hit.URL, hit.Description)
			}
			if s.TopPage != "" {
				fmt.Fprintf(&b, "\ntop result content:\n%s\n", s.TopPage)
			}
		}
	}
	b.WriteString("\n[end data]")
	return b.String()
}

// renderText is the plain-text fallback rendering of a result, used when no
// refinement pass rewrites it.
func renderText(res backend.Result) string {
	switch res.Kind {
	case backend.KindText:
		return res.Text
	case backend.KindImage:
		if res.Image != nil {
			return res.Image.Caption
		}
	case backend.KindWeather:
		if w := res.Weather; w != nil {
			var b strings.Builder
			fmt.Fprintf(&b, "%s: %s, %.1f°C (%.1f°F), humidity %d%%, wind %.1f kph",
				w.Location, w.Condition, w.TempC, w.TempF, w.Humidity, w.WindKph)
			for _, day := range w.Forecast {
				fmt.Fprintf(&b, "\n%s: %s, %.1f°C to %.1f°C", day.Date, day.Condition, day.MinTempC, day.MaxTempC)
			}
			return b.String()
		}
	case backend.KindScores:
		if s := res.Scores; s != nil {
			var b strings.Builder
			fmt.Fprintf(&b, "%s scoreboard:", s.League)
			for _, g := range s.Games {
				fmt.Fprintf(&b, "\n%s %d - %s %d (%s)", g.AwayTeam, g.AwayScore, g.HomeTeam, g.HomeScore, g.Status)
			}
			return b.String()
		}
	case backend.KindSearch:
		if s := res.Search; s != nil {
			var b strings.Builder
			fmt.Fprintf(&b, "results for %q:", s.Query)
			for i, hit := range s.Results {
				fmt.Fprintf(&b, "\n%d. %s - %s", i+1, hit.Title, hit.URL)
			}
			return b.String()
		}
	}
	return ""
}
