// Package backend defines the uniform call contract shared by every
// capability backend, and the typed results they return.
package backend

import (
	"context"
	"fmt"
	"time"
)

// Well-known backend identifiers. Routing rules reference these.
const (
	IDGenerative = "generative"
	IDImage      = "image"
	IDWeather    = "weather"
	IDSports     = "sports"
	IDSearch     = "search"
)

// Kind tags the payload variant carried by a Result.
type Kind string

const (
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindWeather Kind = "weather"
	KindScores  Kind = "scores"
	KindSearch  Kind = "search"
)

// Turn is one prior conversation turn handed to a backend as history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the uniform backend call input.
type Request struct {
	Requester string
	Content   string
	// Model overrides the client's configured model when non-empty.
	Model string
	// Guidance is prepended as the system turn for generative calls.
	Guidance string
	History  []Turn
	Extra    map[string]string
}

// Result is a tagged union keyed by Kind. Exactly one payload field is set,
// matching the tag; consumers switch exhaustively in one place.
type Result struct {
	Kind    Kind
	Text    string
	Image   *ImageArtifact
	Weather *WeatherReport
	Scores  *Scoreboard
	Search  *SearchResults
}

// ImageArtifact is a generated image stored by the artifact store.
type ImageArtifact struct {
	StorageKey string
	Mime       string
	Prompt     string
	Caption    string
}

// WeatherReport is a normalized current-conditions response.
type WeatherReport struct {
	Location    string
	Condition   string
	TempC       float64
	TempF       float64
	Humidity    int
	WindKph     float64
	Forecast    []ForecastDay
	RetrievedAt time.Time
}

// ForecastDay is one day of forecast data.
type ForecastDay struct {
	Date      string
	Condition string
	MinTempC  float64
	MaxTempC  float64
}

// Scoreboard is a normalized set of game lines for one league.
type Scoreboard struct {
	League      string
	Games       []GameLine
	RetrievedAt time.Time
}

// GameLine is one game's state.
type GameLine struct {
	HomeTeam  string
	AwayTeam  string
	HomeScore int
	AwayScore int
	Status    string
	StartTime time.Time
}

// SearchResults is a normalized web search response.
type SearchResults struct {
	Query       string
	Results     []SearchHit
	TopPage     string // markdown extract of the top hit, when fetched
	RetrievedAt time.Time
}

// SearchHit is one search result.
type SearchHit struct {
	Title       string
	URL         string
	Description string
}

// Error is a backend failure returned as a value, never panicked.
type Error struct {
	BackendID string
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s backend: %s", e.BackendID, e.Message)
}

// Errorf builds a backend Error.
func Errorf(backendID, format string, args ...any) *Error {
	return &Error{BackendID: backendID, Message: fmt.Sprintf(format, args...)}
}

// Client executes requests against one backend capability.
type Client interface {
	// ID returns the backend identifier the client serves.
	ID() string
	// Execute performs one backend call. It honors ctx cancellation
	// promptly; a failed call returns a *Error (or wrapped transport
	// error), never a partial Result.
	Execute(ctx context.Context, req Request) (Result, error)
}

// Registry maps backend identifiers to clients.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds a registry from the given clients.
func NewRegistry(clients ...Client) *Registry {
	reg := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		if c != nil {
			reg.clients[c.ID()] = c
		}
	}
	return reg
}

// Get returns the client for id.
func (r *Registry) Get(id string) (Client, bool) {
	c, ok := r.clients[id]
	return c, ok
}

// IDs lists registered backend identifiers.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}
