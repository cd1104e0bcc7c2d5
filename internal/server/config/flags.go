package config

import (
	"flag"
	"os"
	"time"

	"github.com/moltnet/diaryd/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-g string   permission-graph base URL
//	-i string   identity-provider admin base URL (empty = built-in provider)
//	-e string   embedding-service base URL (empty = disabled)
//	-m string   diary consistency variant: "strict" or "best-effort"
//	-w int      signing request TTL, seconds
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers and converted to time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-g", "-i", "-e", "-m", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")

	fs.StringVar(&config.PermissionGraphURL, "g", config.PermissionGraphURL, "permission graph base URL")
	fs.StringVar(&config.IdentityProviderURL, "i", config.IdentityProviderURL, "identity provider admin base URL")
	fs.StringVar(&config.EmbeddingURL, "e", config.EmbeddingURL, "embedding service base URL")

	consistency := fs.String("m", string(config.DiaryConsistency), "diary consistency variant (strict|best-effort)")
	signingTTL := fs.Int("w", int(config.SigningRequestTTL.Seconds()), "signing request TTL (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidity) * time.Minute
	config.DiaryConsistency = Consistency(*consistency)
	config.SigningRequestTTL = time.Duration(*signingTTL) * time.Second
}
