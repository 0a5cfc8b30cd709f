package drive

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/anotepad/notesync/internal/tokenfile"
)

// driveScope grants full Drive access; the sync root may be any folder the
// user picks.
const driveScope = "https://www.googleapis.com/auth/drive"

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// Credentials identify the OAuth client registered for the installed app.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// ErrNoClientID is returned when no OAuth client is configured.
var ErrNoClientID = errors.New("drive: auth.client_id is not configured")

// oauthConfig builds the oauth2 configuration for Google.
func oauthConfig(creds Credentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       []string{driveScope},
		Endpoint:     google.Endpoint,
	}
}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser performs the authorization code + PKCE flow against a
// loopback redirect and saves the token at tokenPath. openURL launches the
// browser; when it fails the URL is printed to stderr.
func LoginWithBrowser(
	ctx context.Context,
	tokenPath string,
	creds Credentials,
	openURL func(string) error,
	logger *slog.Logger,
) error {
	if creds.ClientID == "" {
		return ErrNoClientID
	}

	return doAuthCodeLogin(ctx, tokenPath, oauthConfig(creds), openURL, logger)
}

func doAuthCodeLogin(
	ctx context.Context,
	tokenPath string,
	cfg *oauth2.Config,
	openURL func(string) error,
	logger *slog.Logger,
) error {
	logger.Info("starting browser auth flow", slog.String("path", tokenPath))

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return err
	}

	defer shutdownCallbackServer(srv, logger)

	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/", port)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return fmt.Errorf("drive: generating state token: %w", err)
	}

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)

	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL", slog.String("error", openErr.Error()))
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}

	var code string
	select {
	case result := <-resultCh:
		if result.err != nil {
			return result.err
		}

		code = result.code
	case <-ctx.Done():
		return fmt.Errorf("drive: browser auth canceled: %w", ctx.Err())
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("drive: token exchange failed: %w", err)
	}

	if err := tokenfile.Save(tokenPath, tok, nil); err != nil {
		return fmt.Errorf("drive: saving token: %w", err)
	}

	logger.Info("login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return nil
}

// startCallbackServer binds to 127.0.0.1:0 and serves mux.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("drive: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("drive: listener address is not TCP")
	}

	logger.Info("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- callbackResult{err: fmt.Errorf("drive: callback server error: %w", serveErr)}
		}
	}()

	return srv, tcpAddr.Port, nil
}

// handleOAuthCallback validates the state, extracts the code, and sends the result.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	send := func(res callbackResult) {
		select {
		case resultCh <- res:
		default:
		}
	}

	if r.URL.Query().Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("drive: OAuth2 state mismatch")})

		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("drive: authorization failed: %s", errParam)})

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("drive: callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Signed in</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	send(callbackResult{code: code})
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// Logout removes the saved token file. A missing file is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("logout: no token file to remove", slog.String("path", tokenPath))

		return nil
	}

	if err != nil {
		return fmt.Errorf("drive: removing token file: %w", err)
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

// TokenProvider yields access tokens from the saved token file, refreshing
// through the OAuth endpoint and persisting refreshed tokens.
type TokenProvider struct {
	path   string
	creds  Credentials
	logger *slog.Logger

	// endpoint overrides google.Endpoint in tests.
	endpoint *oauth2.Endpoint

	mu  sync.Mutex
	src oauth2.TokenSource
}

// NewTokenProvider creates a provider reading tokenPath lazily.
func NewTokenProvider(tokenPath string, creds Credentials, logger *slog.Logger) *TokenProvider {
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenProvider{path: tokenPath, creds: creds, logger: logger}
}

// AccessToken returns a valid bearer token. It returns ErrNotLoggedIn when
// no token has been saved, a *NetworkError when the token endpoint is
// unreachable, and any other error when the refresh was refused.
func (p *TokenProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.src == nil {
		tok, meta, err := tokenfile.Load(p.path)
		if err != nil {
			return "", err
		}

		if tok == nil {
			return "", ErrNotLoggedIn
		}

		cfg := oauthConfig(p.creds)
		if p.endpoint != nil {
			cfg.Endpoint = *p.endpoint
		}

		// The token source outlives this call; refreshes must not be tied
		// to one run's cancellation.
		p.src = &persistingSource{
			src:    cfg.TokenSource(context.WithoutCancel(ctx), tok),
			path:   p.path,
			meta:   meta,
			logger: p.logger,
			last:   tok.AccessToken,
		}
	}

	t, err := p.src.Token()
	if err != nil {
		p.logger.Warn("token acquisition failed", slog.String("error", err.Error()))

		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return "", &NetworkError{Op: "refreshing token", Err: err}
		}

		return "", fmt.Errorf("drive: obtaining token: %w", err)
	}

	return t.AccessToken, nil
}

// persistingSource saves the token whenever the wrapped source hands out a
// new access token.
type persistingSource struct {
	src    oauth2.TokenSource
	path   string
	meta   map[string]string
	logger *slog.Logger
	last   string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	if t.AccessToken != s.last {
		if saveErr := tokenfile.Save(s.path, t, s.meta); saveErr != nil {
			s.logger.Warn("failed to persist refreshed token",
				slog.String("path", s.path),
				slog.String("error", saveErr.Error()),
			)
		} else {
			s.logger.Info("persisted refreshed token", slog.Time("expiry", t.Expiry))
		}
	}

	s.last = t.AccessToken

	return t, nil
}
