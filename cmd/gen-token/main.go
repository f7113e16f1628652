// Command gen-token mints HS256 bearer tokens for local runs and tests. The
// service accepts them when started with LOCAL_AUTH_MODE=hs256 or
// AUTH0_TEST_MODE=1 and the same secret.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

type tokenOptions struct {
	Subject   string
	Roles     []string
	HotelID   *int64
	BookingID *int64
	Audience  string
	Issuer    string
	TTL       time.Duration
}

func claimsFor(opts tokenOptions, now time.Time) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(opts.TTL).Unix(),
	}
	if opts.Subject != "" {
		claims["sub"] = opts.Subject
	}
	if len(opts.Roles) > 0 {
		claims["role"] = opts.Roles
	}
	if opts.HotelID != nil {
		claims["hotelId"] = *opts.HotelID
	}
	if opts.BookingID != nil {
		claims["bookingId"] = *opts.BookingID
	}
	if opts.Audience != "" {
		claims["aud"] = opts.Audience
	}
	if opts.Issuer != "" {
		claims["iss"] = opts.Issuer
	}
	return claims
}

func signToken(opts tokenOptions, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret is required")
	}
	if opts.TTL <= 0 {
		return "", errors.New("ttl must be positive")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claimsFor(opts, time.Now())).SignedString(secret)
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "gen-token",
		Usage: "print a signed test token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sub", Usage: "subject (user id); empty for an anonymous token", Value: "test-user"},
			&cli.StringSliceFlag{Name: "role", Usage: "role claim, repeatable"},
			&cli.Int64Flag{Name: "hotel", Usage: "hotelId claim"},
			&cli.Int64Flag{Name: "booking", Usage: "bookingId claim"},
			&cli.StringFlag{Name: "audience", Sources: cli.EnvVars("AUTH0_AUDIENCE")},
			&cli.StringFlag{Name: "issuer"},
			&cli.DurationFlag{Name: "ttl", Value: time.Hour},
			&cli.StringFlag{
				Name:     "secret",
				Usage:    "HS256 signing secret",
				Sources:  cli.EnvVars("TEST_JWT_SECRET", "LOCAL_AUTH_SHARED_SECRET"),
				Required: true,
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			opts := tokenOptions{
				Subject:  cmd.String("sub"),
				Roles:    cmd.StringSlice("role"),
				Audience: cmd.String("audience"),
				Issuer:   cmd.String("issuer"),
				TTL:      cmd.Duration("ttl"),
			}
			if cmd.IsSet("hotel") {
				id := cmd.Int64("hotel")
				opts.HotelID = &id
			}
			if cmd.IsSet("booking") {
				id := cmd.Int64("booking")
				opts.BookingID = &id
			}
			tok, err := signToken(opts, []byte(cmd.String("secret")))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.Writer, tok)
			return err
		},
	}
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatalf("generate token: %v", err)
	}
}
