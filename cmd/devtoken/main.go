// Command devtoken mints a caller token signed with the server's
// SPLITVAULT_JWT_SIGNING_KEY, for local use against cmd/server.
//
//	devtoken -name alice          # identity derived from a label
//	devtoken -sub <64 hex chars>  # explicit identity
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	jwttoken "splitvault/internal/jwt_token"
	"splitvault/internal/platform/config"
	"splitvault/pkg/domain"
)

func main() {
	if err := run(flag.CommandLine, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
}

func run(fs *flag.FlagSet, args []string, out io.Writer) error {
	sub := fs.String("sub", "", "caller identity as 64 hex characters")
	name := fs.String("name", "", "derive the caller identity from this label")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	caller, err := resolveCaller(*sub, *name)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	token, err := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer).GenerateToken(caller, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "identity: %s\ntoken:    %s\n", caller, token)
	return err
}

func resolveCaller(sub, name string) (domain.Identity, error) {
	switch {
	case sub != "" && name != "":
		return domain.Identity{}, fmt.Errorf("use either -sub or -name, not both")
	case sub != "":
		return domain.ParseIdentity(sub)
	case name != "":
		return domain.DeriveIdentity([]byte("dev"), []byte(name)), nil
	default:
		return domain.Identity{}, fmt.Errorf("-sub or -name is required")
	}
}
