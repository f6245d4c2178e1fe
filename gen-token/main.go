package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"project-manager/config"
)

type tokenOptions struct {
	Secret   []byte
	Audience string
	OrgClaim string
	OrgID    string
	TTL      time.Duration
}

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "test-user", "prefix for generated user IDs when count > 1")
		start  = flag.Int("start", 1, "starting index for generated user IDs when count > 1")
		org    = flag.String("org", "test-org", "organization placed in the org claim, empty to omit")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	if *count < 1 {
		log.Fatal("count must be at least 1")
	}
	if *start < 1 {
		log.Fatal("start index must be at least 1")
	}
	args := flag.Args()
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit user ID cannot be provided when generating multiple tokens")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	opts := tokenOptions{
		Secret:   []byte(cfg.Auth.TestSecret),
		Audience: cfg.Auth.Audience,
		OrgClaim: cfg.Auth.OrgClaim,
		OrgID:    *org,
		TTL:      *ttl,
	}

	tokens := make([]string, *count)
	for i := range tokens {
		userID := *prefix
		switch {
		case len(args) > 0:
			userID = args[0]
		case *count > 1:
			userID = fmt.Sprintf("%s-%d", *prefix, *start+i)
		}
		tok, err := signToken(userID, opts, time.Now())
		if err != nil {
			log.Fatalf("generate token: %v", err)
		}
		tokens[i] = tok
	}

	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

// signToken returns an HS256 token accepted by the API in auth test mode.
func signToken(userID string, opts tokenOptions, now time.Time) (string, error) {
	if len(opts.Secret) == 0 {
		return "", errors.New("TEST_JWT_SECRET must be set")
	}
	if userID == "" {
		return "", errors.New("user ID must not be empty")
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(opts.TTL).Unix(),
	}
	if opts.Audience != "" {
		claims["aud"] = opts.Audience
	}
	if opts.OrgID != "" {
		name := opts.OrgClaim
		if name == "" {
			name = "org_id"
		}
		claims[name] = opts.OrgID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(opts.Secret)
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
