package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/stardag-dev/stardag-registry/sdk/client"
)

// callbackPort is the local port the login flow listens on for the
// identity provider's redirect. Fixed, matching the registered redirect
// URI a registry's OIDC application must allow.
const callbackPort = 8400

var (
	loginRegistry  string
	loginWorkspace string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage registry authentication",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to a registry via the browser",
	RunE:  runLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials for a registry",
	RunE:  runLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active profile's authentication status",
	RunE:  runStatus,
}

var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force-refresh the cached access token for the active profile",
	RunE:  runRefresh,
}

func init() {
	authLoginCmd.Flags().StringVar(&loginRegistry, "registry", "", "registry base URL (e.g. https://registry.example.com)")
	authLoginCmd.Flags().StringVar(&loginWorkspace, "workspace", "", "workspace id to scope the session to")
	authLoginCmd.MarkFlagRequired("registry")
	authLoginCmd.MarkFlagRequired("workspace")

	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd, authRefreshCmd)
}

// runLogin drives the browser PKCE authorization_code flow: discover the
// registry's identity provider, open the authorize URL, catch the
// redirect on a local callback server, exchange the code for an OIDC
// token, then exchange that for a workspace-scoped internal token.
func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	regClient := client.New(loginRegistry, "")
	authCfg, err := client.FetchAuthConfig(ctx, regClient)
	if err != nil {
		return fmt.Errorf("fetch registry auth config: %w", err)
	}

	discovery, err := client.DiscoverOIDC(ctx, authCfg.OIDCIssuer)
	if err != nil {
		return fmt.Errorf("discover identity provider: %w", err)
	}

	pkce, err := client.NewPKCE()
	if err != nil {
		return err
	}
	state, err := randomState()
	if err != nil {
		return err
	}
	redirectURI := fmt.Sprintf("http://localhost:%d/callback", callbackPort)

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	srv := startCallbackServer(state, codeCh, errCh)
	defer srv.Close()

	authURL := client.AuthorizationURL(discovery, authCfg.OIDCClientID, redirectURI, pkce, state)
	fmt.Fprintln(cmd.OutOrStdout(), "Opening browser for login. If it doesn't open, visit:")
	fmt.Fprintln(cmd.OutOrStdout(), authURL)
	openBrowser(authURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return fmt.Errorf("login callback: %w", err)
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("login timed out waiting for browser callback")
	}

	tok, err := client.ExchangeAuthorizationCode(ctx, discovery.TokenEndpoint, authCfg.OIDCClientID, code, pkce.Verifier, redirectURI)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	oidcClient := client.New(loginRegistry, tok.IDToken)
	exchanged, err := client.Exchange(ctx, oidcClient, loginWorkspace)
	if err != nil {
		return fmt.Errorf("exchange oidc token for workspace token: %w", err)
	}

	if err := client.SaveCredentials(loginRegistry, client.Credentials{
		TokenEndpoint: discovery.TokenEndpoint,
		ClientID:      authCfg.OIDCClientID,
		RefreshToken:  tok.RefreshToken,
	}); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	if err := client.CacheAccessToken(loginRegistry, loginWorkspace, "", exchanged.AccessToken, client.TokenExpiry(exchanged.ExpiresIn)); err != nil {
		return fmt.Errorf("cache access token: %w", err)
	}

	cfg, err := client.LoadConfig()
	if err != nil {
		return err
	}
	profileName := loginWorkspace
	cfg.Upsert(client.Profile{
		Name:          profileName,
		Registry:      loginRegistry,
		BaseURL:       loginRegistry,
		WorkspaceSlug: loginWorkspace,
	})
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = profileName
	}
	if err := cfg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s (profile %q)\n", loginRegistry, profileName)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if loginRegistry == "" {
		cfg, err := client.LoadConfig()
		if err != nil {
			return err
		}
		if p, ok := cfg.Profile(""); ok {
			loginRegistry = p.Registry
		}
	}
	if loginRegistry == "" {
		return fmt.Errorf("no registry specified and no active profile found")
	}
	if err := client.RemoveCredentials(loginRegistry); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", loginRegistry)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := client.LoadConfig()
	if err != nil {
		return err
	}
	profile, ok := cfg.Profile("")
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "No active profile. Run `stardag auth login` first.")
		return nil
	}
	if _, ok := client.TokenFromEnv(); ok {
		fmt.Fprintln(cmd.OutOrStdout(), "Authenticated via STARDAG_API_KEY")
		return nil
	}
	_, valid, err := client.CachedAccessToken(profile.Registry, profile.Name, "")
	if err != nil {
		return err
	}
	if valid {
		fmt.Fprintf(cmd.OutOrStdout(), "Profile %q: access token valid\n", profile.Name)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Profile %q: access token expired or missing; run `stardag auth refresh`\n", profile.Name)
	}
	return nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := client.LoadConfig()
	if err != nil {
		return err
	}
	profile, ok := cfg.Profile("")
	if !ok {
		return fmt.Errorf("no active profile; run `stardag auth login` first")
	}
	creds, ok, err := client.LoadCredentials(profile.Registry)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no stored credentials for %s; run `stardag auth login`", profile.Registry)
	}
	tok, err := client.RefreshAccessToken(ctx, creds.TokenEndpoint, creds.ClientID, creds.RefreshToken)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	regClient := client.New(profile.Registry, tok.IDToken)
	exchanged, err := client.Exchange(ctx, regClient, profile.Name)
	if err != nil {
		return fmt.Errorf("re-exchange for workspace token: %w", err)
	}
	if err := client.CacheAccessToken(profile.Registry, profile.Name, "", exchanged.AccessToken, client.TokenExpiry(exchanged.ExpiresIn)); err != nil {
		return err
	}
	if tok.RefreshToken != "" {
		creds.RefreshToken = tok.RefreshToken
		if err := client.SaveCredentials(profile.Registry, creds); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Access token refreshed")
	return nil
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// startCallbackServer listens on callbackPort for the identity provider's
// redirect, validating state before handing the code back on codeCh.
func startCallbackServer(wantState string, codeCh chan<- string, errCh chan<- error) *http.Server {
	mux := http.NewServeMux()
	srv := &http.Server{Addr: fmt.Sprintf("localhost:%d", callbackPort), Handler: mux}
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errParam := q.Get("error"); errParam != "" {
			errCh <- fmt.Errorf("%s: %s", errParam, q.Get("error_description"))
			fmt.Fprintln(w, "Login failed, you may close this window.")
			return
		}
		if q.Get("state") != wantState {
			errCh <- fmt.Errorf("state mismatch")
			fmt.Fprintln(w, "Login failed, you may close this window.")
			return
		}
		codeCh <- q.Get("code")
		fmt.Fprintln(w, "Login complete, you may close this window.")
	})
	go srv.ListenAndServe()
	return srv
}

// openBrowser best-effort opens url in the user's default browser. A
// failure here isn't fatal: the URL is always also printed to stdout.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	_ = cmd.Start()
}
