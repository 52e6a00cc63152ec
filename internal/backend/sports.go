package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// leaguePaths maps league tokens to scoreboard API paths.
var leaguePaths = map[string]string{
	"nfl": "football/nfl",
	"nba": "basketball/nba",
	"mlb": "baseball/mlb",
	"nhl": "hockey/nhl",
	"mls": "soccer/usa.1",
}

// SportsClient fetches a normalized scoreboard for one league token.
type SportsClient struct {
	logger     *slog.Logger
	baseURL    string
	httpClient *http.Client
}

func NewSportsClient(log *slog.Logger, baseURL string, timeout time.Duration) (*SportsClient, error) {
	if log == nil {
		log = slog.Default()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://site.api.espn.com/apis/site/v2/sports"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SportsClient{
		logger:     log.With(slog.String("service", "sports_backend")),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *SportsClient) ID() string { return IDSports }

type scoreboardResponse struct {
	Events []struct {
		Date         string `json:"date"`
		Competitions []struct {
			Competitors []struct {
				HomeAway string `json:"homeAway"`
				Score    string `json:"score"`
				Team     struct {
					DisplayName string `json:"displayName"`
				} `json:"team"`
			} `json:"competitors"`
			Status struct {
				Type struct {
					Description string `json:"description"`
				} `json:"type"`
			} `json:"status"`
		} `json:"competitions"`
	} `json:"events"`
}

// Execute fetches the scoreboard for the league named in req.Content
// ("nfl", "nba", "mlb", "nhl", "mls").
func (c *SportsClient) Execute(ctx context.Context, req Request) (Result, error) {
	league := strings.ToLower(strings.TrimSpace(req.Content))
	path, ok := leaguePaths[league]
	if !ok {
		return Result{}, Errorf(IDSports, "unknown league %q", league)
	}

	endpoint := fmt.Sprintf("%s/%s/scoreboard", c.baseURL, path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, Errorf(IDSports, "request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, Errorf(IDSports, "read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, Errorf(IDSports, "status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed scoreboardResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, Errorf(IDSports, "invalid response: %v", err)
	}

	board := &Scoreboard{
		League:      strings.ToUpper(league),
		RetrievedAt: time.Now().UTC(),
	}
	for _, event := range parsed.Events {
		if len(event.Competitions) == 0 {
			continue
		}
		comp := event.Competitions[0]
		line := GameLine{Status: comp.Status.Type.Description}
		if t, err := time.Parse("2006-01-02T15:04Z", event.Date); err == nil {
			line.StartTime = t
		}
		for _, competitor := range comp.Competitors {
			score, _ := strconv.Atoi(competitor.Score)
			switch competitor.HomeAway {
			case "home":
				line.HomeTeam = competitor.Team.DisplayName
				line.HomeScore = score
			case "away":
				line.AwayTeam = competitor.Team.DisplayName
				line.AwayScore = score
			}
		}
		board.Games = append(board.Games, line)
	}
	return Result{Kind: KindScores, Scores: board}, nil
}
