package auth

import (
	"net/http"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// FeedMiddleware returns an echo middleware that gates feed routes with a
// rotating-key token. The query-string lookup exists for websocket clients
// that cannot set headers.
func FeedMiddleware(keyring *Keyring, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		Skipper:     skipper,
		TokenLookup: "header:Authorization:Bearer ,query:token",
		ParseTokenFunc: func(c echo.Context, tokenString string) (any, error) {
			token, err := keyring.ValidateFeedToken(tokenString)
			if err != nil {
				return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid feed token")
			}
			return token, nil
		},
	})
}
