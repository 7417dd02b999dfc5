// ABOUTME: First-run setup: grant the owner role and mint bearer tokens
// ABOUTME: Tokens are signed with the configured JWT secret and saved next to the config

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/mcp-gateway/internal/auth"
	"github.com/2389/mcp-gateway/internal/authz"
	"github.com/2389/mcp-gateway/internal/config"
	"github.com/2389/mcp-gateway/internal/gateway"
	"github.com/2389/mcp-gateway/internal/store"
)

const (
	ownerRole       = "owner"
	defaultTokenTTL = 30 * 24 * time.Hour
)

// tokenFlags are shared by bootstrap and token.
type tokenFlags struct {
	userID string
	orgID  string
	roles  []string
	ttl    time.Duration
}

func parseTokenFlags(name string, args []string, defaultRoles []string) (*tokenFlags, error) {
	tf := &tokenFlags{}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&tf.userID, "user", "u", "", "user id (sub claim)")
	fs.StringVarP(&tf.orgID, "org", "o", "", "organization id (org claim)")
	fs.StringSliceVarP(&tf.roles, "role", "r", defaultRoles, "role to include; repeatable")
	fs.DurationVar(&tf.ttl, "ttl", defaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	tf.userID = strings.TrimSpace(tf.userID)
	tf.orgID = strings.TrimSpace(tf.orgID)
	if tf.userID == "" || tf.orgID == "" {
		return nil, errors.New("--user and --org are required")
	}
	if tf.ttl <= 0 {
		return nil, errors.New("--ttl must be positive")
	}
	return tf, nil
}

func (tf *tokenFlags) mint(secret string) (string, error) {
	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	return verifier.Generate(auth.Identity{UserID: tf.userID, OrganizationID: tf.orgID, Roles: tf.roles}, tf.ttl)
}

// runBootstrap grants the owner role every action on servers, then mints an
// owner token. It refuses to run twice against the same database.
func runBootstrap(ctx context.Context, args []string) error {
	tf, err := parseTokenFlags("bootstrap", args, []string{ownerRole})
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	s, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()
	green.Printf("  ✓ Database: %s\n", cfg.Database.Driver)

	if err := grantOwner(ctx, s, tf.userID); err != nil {
		return err
	}
	green.Printf("  ✓ Granted %q all actions on %s\n", ownerRole, gateway.ResourceServers)

	token, err := tf.mint(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	cyan.Println("  Owner")
	cyan.Println("  -----")
	fmt.Printf("  User:         %s\n", tf.userID)
	fmt.Printf("  Organization: %s\n", tf.orgID)
	fmt.Printf("  Roles:        %s\n", strings.Join(tf.roles, ", "))
	fmt.Printf("  Expires:      %s\n", time.Now().Add(tf.ttl).UTC().Format("Jan 02, 2006"))
	fmt.Println()
	yellow.Println("  Ready to go:")
	fmt.Println("    mcp-gateway serve")
	fmt.Printf("    curl -H \"Authorization: Bearer $(cat %s)\" http://%s/api/servers\n", tokenPath, cfg.Server.HTTPAddr)
	fmt.Println()
	return nil
}

// grantOwner creates the servers:* allow rule and assigns it to the owner role.
func grantOwner(ctx context.Context, s *store.SQLStore, actorID string) error {
	existing, err := s.ListRolePermissions(ctx, []string{ownerRole})
	if err != nil {
		return fmt.Errorf("checking owner permissions: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("bootstrap already complete: role %q has %d permission(s)", ownerRole, len(existing))
	}

	manager := authz.NewManager(s, nil)
	actor := authz.Actor{UserID: actorID}
	p := &store.Permission{Resource: gateway.ResourceServers, Action: "*", Effect: store.EffectAllow}
	if err := manager.CreatePermission(ctx, actor, p); err != nil {
		return fmt.Errorf("creating permission: %w", err)
	}
	if err := manager.AssignToRole(ctx, actor, ownerRole, p.ID); err != nil {
		// Leave nothing half-granted.
		_ = manager.DeletePermission(ctx, actor, p.ID)
		return fmt.Errorf("assigning owner role: %w", err)
	}
	return nil
}

// runToken mints a token without touching the database.
func runToken(args []string) error {
	tf, err := parseTokenFlags("token", args, nil)
	if err != nil {
		return err
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := tf.mint(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}
