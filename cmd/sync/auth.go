package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/peteski22/creatorsync/internal/config"
	"github.com/peteski22/creatorsync/internal/platform"
	"github.com/peteski22/creatorsync/internal/storage"
)

const (
	authTimeout         = 5 * time.Minute
	callbackPath        = "/callback"
	defaultCallbackAddr = "localhost:8080"
	stateByteLength     = 32
)

// authOptions controls one authorization flow.
type authOptions struct {
	// CreatorID is the creator whose refresh token is stored.
	CreatorID string

	// ListenAddr is where the callback server listens.
	ListenAddr string

	// Open sends the user to the authorization URL.
	Open func(targetURL string) error

	// Timeout bounds the wait for the callback.
	Timeout time.Duration
}

// generateOAuthState generates a cryptographically secure random state for CSRF protection.
func generateOAuthState() (string, error) {
	b := make([]byte, stateByteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// browserCommand returns the command and arguments to open a URL on the current OS.
func browserCommand(targetURL string) (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "open", []string{targetURL}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", targetURL}
	default:
		return "xdg-open", []string{targetURL}
	}
}

// openBrowser opens the default web browser to the specified URL.
func openBrowser(targetURL string) error {
	name, args := browserCommand(targetURL)
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout

	return cmd.Start()
}

// runAuth parses the auth flags and authorizes a creator with the platform.
func runAuth(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	fs.SetOutput(out)
	creatorID := fs.String("creator", "", "creator ID to authorize (required)")
	listenAddr := fs.String("listen", defaultCallbackAddr, "address of the local OAuth callback server")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *creatorID == "" {
		return errors.New("--creator is required")
	}

	cfg, err := config.LoadLocal()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return authorize(ctx, cfg, authOptions{
		CreatorID:  *creatorID,
		ListenAddr: *listenAddr,
		Open:       openBrowser,
		Timeout:    authTimeout,
	}, out)
}

// authorize performs the OAuth authorization code flow for one creator.
// It starts a local server, sends the user to the consent page and saves the refresh token.
func authorize(ctx context.Context, cfg *config.LocalConfig, opts authOptions, out io.Writer) error {
	_, _ = fmt.Fprintf(out, "=== Platform Authorization: %s ===\n\n", opts.CreatorID)

	tokenStore, err := storage.NewFileTokenStore(cfg.TokenDir)
	if err != nil {
		return fmt.Errorf("creating token store: %w", err)
	}

	tokens, err := platform.NewTokenManager(platform.OAuthConfig{
		AuthURL:      cfg.Platform.AuthURL,
		ClientID:     cfg.Platform.ClientID,
		ClientSecret: cfg.Platform.ClientSecret,
		HTTPClient:   &http.Client{Timeout: cfg.Platform.Timeout},
		TokenURL:     cfg.Platform.TokenURL,
	}, tokenStore)
	if err != nil {
		return fmt.Errorf("creating token manager: %w", err)
	}

	// Generate state for CSRF protection.
	state, err := generateOAuthState()
	if err != nil {
		return fmt.Errorf("generating OAuth state: %w", err)
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	server, port, err := startOAuthCallbackServer(opts.ListenAddr, codeChan, errChan, state)
	if err != nil {
		return fmt.Errorf("starting callback server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	redirectURI := fmt.Sprintf("http://localhost:%d%s", port, callbackPath)
	authURL := tokens.AuthorizationURL(redirectURI, state)

	_, _ = fmt.Fprintln(out, "Opening browser for authorization...")
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "If the browser doesn't open, visit this URL:")
	_, _ = fmt.Fprintln(out, authURL)
	_, _ = fmt.Fprintln(out)

	if err := opts.Open(authURL); err != nil {
		_, _ = fmt.Fprintf(out, "Could not open browser: %s\n", err)
	}

	_, _ = fmt.Fprintln(out, "Waiting for authorization...")

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		return fmt.Errorf("authorization failed: %w", err)
	case <-timer.C:
		return fmt.Errorf("authorization timed out after %s", opts.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Authorization received, exchanging for tokens...")

	token, err := tokens.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return fmt.Errorf("exchanging code for tokens: %w", err)
	}
	if token.RefreshToken == "" {
		return errors.New("token response did not include a refresh token")
	}

	if err := tokenStore.SaveRefreshToken(ctx, opts.CreatorID, token.RefreshToken); err != nil {
		return fmt.Errorf("saving refresh token: %w", err)
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Authorization successful!")
	_, _ = fmt.Fprintf(out, "Refresh token saved in: %s\n", cfg.TokenDir)
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "You can now run:")
	_, _ = fmt.Fprintf(out, "  creatorsync run --creator %s --dry-run\n", opts.CreatorID)

	return nil
}

// writeCallbackResponse writes an HTML response for the OAuth callback page.
// It escapes the title and message to prevent XSS attacks.
func writeCallbackResponse(w http.ResponseWriter, title string, message string) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(
		w,
		`<html><body><h1>%s</h1><p>%s</p><p>You can close this window.</p></body></html>`,
		html.EscapeString(title),
		html.EscapeString(message),
	)
}

// startOAuthCallbackServer starts a local HTTP server to receive the OAuth callback.
// It sends the authorization code or error through the provided channels and returns the bound port.
// The callback must carry expectedState when it is set.
func startOAuthCallbackServer(
	listenAddr string,
	codeChan chan<- string,
	errChan chan<- error,
	expectedState string,
) (*http.Server, int, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, 0, fmt.Errorf("listening on %s: %w", listenAddr, err)
	}

	// Non-blocking sends so repeated callbacks cannot wedge the handler.
	sendErr := func(err error) {
		select {
		case errChan <- err:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		errDesc := r.URL.Query().Get("error_description")
		errMsg := r.URL.Query().Get("error")
		state := r.URL.Query().Get("state")

		if errMsg != "" {
			sendErr(fmt.Errorf("%s: %s", errMsg, errDesc))
			writeCallbackResponse(w, "Authorization Failed", fmt.Sprintf("%s: %s", errMsg, errDesc))
			return
		}

		if code == "" {
			sendErr(errors.New("no authorization code received"))
			writeCallbackResponse(w, "Authorization Failed", "No authorization code received.")
			return
		}

		if expectedState != "" && state != expectedState {
			sendErr(errors.New("state mismatch: possible CSRF attack"))
			writeCallbackResponse(w, "Authorization Failed", "State validation failed.")
			return
		}

		select {
		case codeChan <- code:
		default:
		}
		writeCallbackResponse(w, "Authorization Successful", "You can return to the terminal.")
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sendErr(fmt.Errorf("server error: %w", err))
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	return server, port, nil
}
