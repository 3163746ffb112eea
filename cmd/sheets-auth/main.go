// Command sheets-auth runs the OAuth consent flow once and saves the token
// the sheets backend uses when no service account is configured.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/oauth2"

	"vatledger/internal/cli"
	"vatledger/internal/config"
	"vatledger/internal/log"
	gsheet "vatledger/internal/sheets/google"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg)

	oc, err := gsheet.OAuthConfig(gsheet.Options{
		OAuthClientJSON: cfg.GoogleOAuthClientJSON,
		OAuthClientFile: cfg.GoogleOAuthClientFile,
	})
	if err != nil {
		logger.Error("Failed to load OAuth client", log.FieldError, err.Error())
		os.Exit(1)
	}

	// The redirect URI must be registered on the OAuth client.
	redirectPort := os.Getenv("OAUTH_REDIRECT_PORT")
	if redirectPort == "" {
		redirectPort = "8085"
	}
	oc.RedirectURL = "http://localhost:" + redirectPort + "/callback"

	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	srv := &http.Server{Addr: ":" + redirectPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		if errStr := r.URL.Query().Get("error"); errStr != "" {
			http.Error(w, "OAuth error: "+errStr, http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "You may close this window and return to the terminal.")
		select {
		case codeCh <- r.URL.Query().Get("code"):
		default:
		}
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Callback server error", log.FieldError, err.Error())
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	fmt.Printf("Open this URL to authorize:\n%s\n", oc.AuthCodeURL("state-token", oauth2.AccessTypeOffline))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	select {
	case code := <-codeCh:
		tok, err := oc.Exchange(ctx, code)
		if err != nil {
			logger.Error("Token exchange failed", log.FieldError, err.Error())
			os.Exit(1)
		}
		if err := gsheet.SaveToken(cfg.GoogleOAuthTokenFile, tok); err != nil {
			logger.Error("Failed to save token", log.FieldError, err.Error(), "path", cfg.GoogleOAuthTokenFile)
			os.Exit(1)
		}
		logger.Info("Saved OAuth token", "path", cfg.GoogleOAuthTokenFile)
	case <-time.After(5 * time.Minute):
		logger.Error("Authorization timed out")
		os.Exit(1)
	case <-ctx.Done():
		logger.Warn("Interrupted")
		os.Exit(1)
	}
}
