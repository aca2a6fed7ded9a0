package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
)

// signLocalToken returns a token accepted by the API in hs256 auth mode.
func signLocalToken(secret []byte, userID, audience string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("LOCAL_AUTH_SHARED_SECRET must be set")
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func tokenCmd() *cobra.Command {
	var (
		count  int
		prefix string
		start  int
		ttl    time.Duration
		output string
	)
	cmd := &cobra.Command{
		Use:   "token [user]",
		Short: "Mint local HS256 tokens for development and load tests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("--count must be at least 1")
			}
			if start < 1 {
				return errors.New("--start must be at least 1")
			}
			if len(args) > 0 && count > 1 {
				return errors.New("explicit user id cannot be combined with --count")
			}

			secret := []byte(os.Getenv("LOCAL_AUTH_SHARED_SECRET"))
			audience := os.Getenv("AUTH0_AUDIENCE")
			now := time.Now()
			tokens := make([]string, count)
			for i := range tokens {
				userID := prefix
				switch {
				case len(args) > 0:
					userID = args[0]
				case flags.user != "" && count == 1:
					userID = flags.user
				case count > 1:
					userID = fmt.Sprintf("%s-%d", prefix, start+i)
				}
				tok, err := signLocalToken(secret, userID, audience, ttl, now)
				if err != nil {
					return err
				}
				tokens[i] = tok
			}

			if output != "" {
				if err := writeTokens(output, tokens); err != nil {
					return fmt.Errorf("write tokens: %w", err)
				}
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), tokens[0])
			return err
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of tokens to generate")
	cmd.Flags().StringVar(&prefix, "prefix", "dev-user", "user id prefix when --count > 1")
	cmd.Flags().IntVar(&start, "start", 1, "first index of generated user ids")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write all tokens to this file as a JSON array")
	return cmd
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
