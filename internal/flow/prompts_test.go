package flow

import (
	"strings"
	"testing"

	"github.com/courierdev/courier/internal/ability"
	"github.com/courierdev/courier/internal/backend"
)

func TestClassificationGuidanceListsRoutableAbilities(t *testing.T) {
	t.Parallel()
	rules, err := ability.NewSet([]ability.Rule{
		{Keyword: "weather", BackendID: backend.IDWeather, Description: "current conditions"},
		{Keyword: "help", BackendID: backend.IDGenerative, Description: "list abilities"},
		{BackendID: backend.IDGenerative},
	})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	guidance := classificationGuidance(rules)
	if !strings.Contains(guidance, "- weather: current conditions") {
		t.Fatalf("weather ability missing:\n%s", guidance)
	}
	// Reserved exact-only keywords are served in-process, not offered for
	// routing.
	if strings.Contains(guidance, "- help:") {
		t.Fatalf("reserved keyword offered for routing:\n%s", guidance)
	}
	if !strings.Contains(guidance, "entire first line") {
		t.Fatalf("routing instruction missing:\n%s", guidance)
	}
}

func TestRefinementGuidanceCarriesNoRoutingInstructions(t *testing.T) {
	t.Parallel()
	for _, banned := range []string{"keyword", "first line", "ability"} {
		if strings.Contains(strings.ToLower(refinementGuidance), banned) {
			t.Fatalf("refinement guidance mentions %q", banned)
		}
	}
}

func TestParameterGuidanceNamesRequiredParams(t *testing.T) {
	t.Parallel()
	rule := ability.Rule{Params: ability.Params{Required: []string{"location"}}}
	got := parameterGuidance(rule)
	if !strings.Contains(got, "Extract the location") {
		t.Fatalf("parameterGuidance = %q", got)
	}
}

func TestFormatExternalDataCoversEveryKind(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		res  backend.Result
		want string
	}{
		{"text", backend.Result{Kind: backend.KindText, Text: "plain reply"}, "plain reply"},
		{"image", backend.Result{Kind: backend.KindImage, Image: &backend.ImageArtifact{StorageKey: "a.png", Prompt: "a cat"}}, "a cat"},
		{"weather", backend.Result{Kind: backend.KindWeather, Weather: &backend.WeatherReport{
			Location: "Dayton, Ohio", Condition: "Clear", TempC: 21, TempF: 69.8, Humidity: 40, WindKph: 8,
			Forecast: []backend.ForecastDay{{Date: "2026-08-29", Condition: "Sunny", MinTempC: 15, MaxTempC: 27}},
		}}, "forecast 2026-08-29"},
		{"scores", backend.Result{Kind: backend.KindScores, Scores: &backend.Scoreboard{
			League: "nba",
			Games:  []backend.GameLine{{HomeTeam: "Cavs", HomeScore: 101, AwayTeam: "Bulls", AwayScore: 99, Status: "Final"}},
		}}, "Bulls 99 - Cavs 101"},
		{"search", backend.Result{Kind: backend.KindSearch, Search: &backend.SearchResults{
			Query:   "go generics",
			Results: []backend.SearchHit{{Title: "Go blog", URL: "https://go.dev", Description: "official"}},
			TopPage: "extracted markdown",
		}}, "top result content"},
	}
	for _, tc := range cases {
		got := formatExternalData("test-backend", tc.res)
		if !strings.HasPrefix(got, "[test-backend data]") || !strings.HasSuffix(got, "[end data]") {
			t.Fatalf("%s: block tags missing:\n%s", tc.name, got)
		}
		if !strings.Contains(got, tc.want) {
			t.Fatalf("%s: payload %q missing:\n%s", tc.name, tc.want, got)
		}
	}
}

func TestRenderTextFallbacks(t *testing.T) {
	t.Parallel()
	weather := backend.Result{Kind: backend.KindWeather, Weather: &backend.WeatherReport{
		Location: "Dayton, Ohio", Condition: "Clear", TempC: 21, TempF: 69.8, Humidity: 40, WindKph: 8,
	}}
	if got := renderText(weather); !strings.Contains(got, "Clear") || !strings.Contains(got, "Dayton") {
		t.Fatalf("renderText(weather) = %q", got)
	}

	image := backend.Result{Kind: backend.KindImage, Image: &backend.ImageArtifact{Caption: "Generated: a cat"}}
	if got := renderText(image); got != "Generated: a cat" {
		t.Fatalf("renderText(image) = %q", got)
	}

	if got := renderText(backend.Result{Kind: backend.KindText, Text: "hi"}); got != "hi" {
		t.Fatalf("renderText(text) = %q", got)
	}
	if got := renderText(backend.Result{Kind: backend.KindWeather}); got != "" {
		t.Fatalf("renderText(nil payload) = %q", got)
	}
}
