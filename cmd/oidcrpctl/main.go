// Command oidcrpctl is a thin CLI wrapper over pkg/rp, driving the core
// library end-to-end rather than implementing any protocol logic itself:
// print an authorization URL, poll a device flow, or call
// introspect/revoke. Subcommands dispatch through a small
// flag.FlagSet per mode rather than a single flat flag set, since this
// tool has more than one mode of operation.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/sawyerh/node-openid-client/pkg/config"
	"github.com/sawyerh/node-openid-client/pkg/discovery"
	"github.com/sawyerh/node-openid-client/pkg/logger"
	"github.com/sawyerh/node-openid-client/pkg/rp"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	log := logger.NewSimple("oidcrpctl")
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "auth-url":
		err = runAuthURL(ctx, log, os.Args[2:])
	case "device":
		err = runDevice(ctx, log, os.Args[2:])
	case "introspect":
		err = runIntrospect(ctx, log, os.Args[2:])
	case "revoke":
		err = runRevoke(ctx, log, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "oidcrpctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: oidcrpctl <auth-url|device|introspect|revoke> [flags]")
}

func loadClient(ctx context.Context, log *logger.Log) (*rp.Client, *configuration.Cfg, error) {
	cfg, err := configuration.New(log)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	issuer, err := discovery.Discover(ctx, cfg.Issuer.DiscoveryURL, http.DefaultClient, log)
	if err != nil {
		return nil, nil, fmt.Errorf("discover issuer: %w", err)
	}

	metadata := rp.ClientMetadata{
		ClientID:                 cfg.Client.ClientID,
		ClientSecret:             cfg.Client.ClientSecret,
		RedirectURIs:             []string{cfg.Client.RedirectURI},
		ResponseTypes:            []string{cfg.Client.ResponseType},
		GrantTypes:               cfg.Client.GrantTypes,
		TokenEndpointAuthMethod:  cfg.Client.TokenEndpointAuthMethod,
		IDTokenSignedResponseAlg: cfg.Client.IDTokenSignedResponseAlg,
	}

	client, err := rp.NewClient(metadata, issuer, nil, log, "", "")
	if err != nil {
		return nil, nil, fmt.Errorf("construct client: %w", err)
	}
	return client, cfg, nil
}

func runAuthURL(ctx context.Context, log *logger.Log, args []string) error {
	fs := flag.NewFlagSet("auth-url", flag.ExitOnError)
	scope := fs.String("scope", "openid", "scope to request")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := loadClient(ctx, log)
	if err != nil {
		return err
	}

	verifier, err := rp.GenerateCodeVerifier()
	if err != nil {
		return err
	}

	authURL, err := client.AuthorizationURL(rp.AuthorizationParams{
		Scope:               *scope,
		State:               rp.NewState(),
		Nonce:               rp.NewNonce(),
		CodeChallenge:       rp.CodeChallenge(rp.PKCEMethodS256, verifier),
		CodeChallengeMethod: rp.PKCEMethodS256,
	})
	if err != nil {
		return err
	}

	fmt.Println(authURL)
	fmt.Fprintln(os.Stderr, "code_verifier:", verifier)
	return nil
}

func runDevice(ctx context.Context, log *logger.Log, args []string) error {
	fs := flag.NewFlagSet("device", flag.ExitOnError)
	scope := fs.String("scope", "openid", "scope to request")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := loadClient(ctx, log)
	if err != nil {
		return err
	}

	handle, err := client.DeviceAuthorization(ctx, map[string]string{"scope": *scope}, nil)
	if err != nil {
		return fmt.Errorf("device_authorization: %w", err)
	}

	fmt.Printf("Visit %s and enter code %s\n", handle.VerificationURI, handle.UserCode)
	if handle.VerificationURIComplete != "" {
		printQRCode(handle.VerificationURIComplete)
	}

	for {
		if time.Now().After(handle.ExpiresAt) {
			return fmt.Errorf("device code expired before authorization completed")
		}
		time.Sleep(handle.Interval)

		if err := handle.Poll(ctx); err != nil {
			return fmt.Errorf("device flow failed: %w", err)
		}
		if handle.State == rp.DeviceGranted {
			fmt.Println("access_token:", handle.Tokens.AccessToken())
			return nil
		}
	}
}

func printQRCode(data string) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return
	}
	fmt.Println(qr.ToString(false))
}

func runIntrospect(ctx context.Context, log *logger.Log, args []string) error {
	fs := flag.NewFlagSet("introspect", flag.ExitOnError)
	token := fs.String("token", "", "token to introspect")
	hint := fs.String("hint", "", "token_type_hint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		return fmt.Errorf("-token is required")
	}

	client, _, err := loadClient(ctx, log)
	if err != nil {
		return err
	}

	result, err := client.Introspect(ctx, *token, *hint)
	if err != nil {
		return err
	}
	for k, v := range result {
		fmt.Printf("%s: %v\n", k, v)
	}
	return nil
}

func runRevoke(ctx context.Context, log *logger.Log, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	token := fs.String("token", "", "token to revoke")
	hint := fs.String("hint", "", "token_type_hint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		return fmt.Errorf("-token is required")
	}

	client, _, err := loadClient(ctx, log)
	if err != nil {
		return err
	}
	if err := client.Revoke(ctx, *token, *hint); err != nil {
		return err
	}
	fmt.Println("revoked")
	return nil
}
