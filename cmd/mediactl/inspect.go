package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/EgorLis/my-media/internal/auth/token"
	"github.com/EgorLis/my-media/internal/config"
	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/media/hashing"
	"github.com/EgorLis/my-media/internal/media/sharding"
)

var (
	hashAlgo    string
	shardDepth  int
	shardWidth  int
	tokenAdmin  bool
	tokenTenant string
	tokenTTL    time.Duration
)

var hashCmd = &cobra.Command{
	Use:   "hash <file>",
	Short: "Print the content hash and shard path of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := hashing.New(hashing.Algorithm(hashAlgo))
		if err != nil {
			return err
		}
		s, err := sharding.New(shardDepth, shardWidth)
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		digest, size, err := h.HashReader(f)
		if err != nil {
			return err
		}
		shard, err := s.Path(digest)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  size=%d shard=%s\n", digest, h.Algorithm(), size, shard)
		return nil
	},
}

var shardCmd = &cobra.Command{
	Use:   "shard <digest>",
	Short: "Print the shard directory for a content hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := sharding.New(shardDepth, shardWidth)
		if err != nil {
			return err
		}
		shard, err := s.Path(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), shard)
		return nil
	},
}

// tokenCmd — выпуск bearer-токена для отладки и админских вызовов
var tokenCmd = &cobra.Command{
	Use:   "token <user-uuid>",
	Short: "Issue a bearer token signed with AUTH_JWT_SECRET",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return err
		}
		user, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("user id: %w", err)
		}
		p := domain.Principal{ID: user, Admin: tokenAdmin}
		if tokenTenant != "" {
			if p.Tenant, err = uuid.Parse(tokenTenant); err != nil {
				return fmt.Errorf("tenant id: %w", err)
			}
		}
		ttl := cfg.AuthTokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		tok, claims, err := token.New(cfg.AuthJWTSecret, cfg.AuthIssuer, ttl).Issue(cmd.Context(), p)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		fmt.Fprintf(cmd.ErrOrStderr(), "jti=%s expires=%s\n", claims.JTI, claims.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{hashCmd, shardCmd} {
		c.Flags().IntVar(&shardDepth, "depth", sharding.DefaultDepth, "shard directory levels")
		c.Flags().IntVar(&shardWidth, "width", sharding.DefaultWidth, "hex characters per level")
	}
	hashCmd.Flags().StringVar(&hashAlgo, "algo", string(hashing.SHA256), "hash algorithm: sha256 | blake3")

	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "grant the admin claim")
	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "tenant uuid")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default AUTH_TOKEN_TTL)")
}
