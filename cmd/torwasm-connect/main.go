// Package main provides the CLI entry point for the tor-wasm transport
// core: dial a bridge through the dispatcher, manage trust-tiered
// credentials, compute bridge-blinding blobs, and run the interactive
// setup wizard.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tor-wasm/transportcore/internal/blind"
	"github.com/tor-wasm/transportcore/internal/config"
	"github.com/tor-wasm/transportcore/internal/credential"
	"github.com/tor-wasm/transportcore/internal/logging"
	"github.com/tor-wasm/transportcore/internal/tlsoverlay"
	"github.com/tor-wasm/transportcore/internal/xport"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "torwasm-connect",
		Short:   "tor-wasm transport core CLI",
		Version: Version,
		Long: `torwasm-connect dials a bridge through the censorship-resistant
transport dispatcher (WebSocket, WebTunnel, Meek, peer-relayed WebRTC),
manages trust-tiered credentials against a credential authority, and
computes bridge-blinding blobs for Bridge B addressing.`,
	}

	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(blindCmd())
	rootCmd.AddCommand(credentialCmd())
	rootCmd.AddCommand(wizardCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfigOrExit(path string) (*config.ClientConfig, *slog.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: load config:", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	return cfg, log
}

func connectCmd() *cobra.Command {
	var configPath string
	var host string
	var port uint16
	var serverName string
	var useTLS bool
	var relayDuration time.Duration
	var retries int
	var retryBackoff time.Duration

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Dial a relay through the bridge dispatcher",
		Long: `Dial a relay address through the configured bridge, trying each
enabled transport in order (WebSocket, WebTunnel, Meek, peer-relayed)
until one reaches the Connected state.

With --tls, the stream is wrapped in the permissive TLS overlay before
stdin/stdout relaying begins. With --retries > 0, a failed attempt
chain is retried with linear backoff instead of failing immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := loadConfigOrExit(configPath)

			d := xport.NewDispatcher(cfg.Bridge, log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				cancel()
			}()

			req := xport.ConnectRequest{Host: host, Port: port, ServerName: serverName}

			stream, err := d.ConnectWithRetry(ctx, req, retries, retryBackoff)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer stream.Close()

			fmt.Fprintf(os.Stderr, "connected via %s to %s\n", stream.Tag(), req.Addr())

			var rw io.ReadWriteCloser = stream
			var overlay *tlsoverlay.Overlay
			if useTLS {
				overlay, err = tlsoverlay.Dial(stream, serverName, 10*time.Second)
				if err != nil {
					return fmt.Errorf("tls overlay: %w", err)
				}
				defer overlay.Close()
				rw = overlay
			}

			if relayDuration > 0 {
				var cancelTimeout context.CancelFunc
				ctx, cancelTimeout = context.WithTimeout(ctx, relayDuration)
				defer cancelTimeout()
				go func() {
					<-ctx.Done()
					stream.Close()
				}()
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				io.Copy(rw, os.Stdin)
			}()

			n, copyErr := io.Copy(os.Stdout, rw)
			<-done

			if overlay != nil {
				d.AddBytesIn(stream.Tag(), overlay.BytesRead())
				d.AddBytesOut(stream.Tag(), overlay.BytesWritten())
			} else {
				d.AddBytesIn(stream.Tag(), stream.BytesRead())
				d.AddBytesOut(stream.Tag(), stream.BytesWritten())
			}

			stats := d.Stats()
			fmt.Fprintf(os.Stderr, "relayed %s, attempts=%d successes=%d\n",
				humanize.Bytes(uint64(n)), stats.Attempts, stats.Successes)
			return copyErr
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to client config file")
	cmd.Flags().StringVar(&host, "host", "", "Relay host to reach through the bridge")
	cmd.Flags().Uint16Var(&port, "port", 443, "Relay port")
	cmd.Flags().StringVar(&serverName, "server-name", "", "Expected TLS server name (neutral SNI used when empty)")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "Wrap the stream in the permissive TLS overlay")
	cmd.Flags().DurationVar(&relayDuration, "timeout", 0, "Overall relay timeout, 0 for none")
	cmd.Flags().IntVar(&retries, "retries", 0, "Retry the full attempt chain this many times on failure")
	cmd.Flags().DurationVar(&retryBackoff, "retry-backoff", time.Second, "Linear backoff unit between retries")
	_ = cmd.MarkFlagRequired("host")

	return cmd
}

func blindCmd() *cobra.Command {
	var bridgeBKeyHex string
	var relayAddr string
	var decrypt bool
	var bridgeBPrivHex string

	cmd := &cobra.Command{
		Use:   "blind",
		Short: "Encrypt or decrypt a bridge-blinding blob",
		Long: `Compute the bridge-blinding cipher blob for a relay address under
Bridge B's public key, or (with --decrypt, given the private key)
recover the relay address from a blob. Decryption is provided for
testing; real Bridge B clients perform it server-side.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if decrypt {
				var priv [blind.KeySize]byte
				if err := decodeHexInto(bridgeBPrivHex, priv[:]); err != nil {
					return fmt.Errorf("bridge-b-priv: %w", err)
				}
				addr, err := blind.Decrypt(priv, relayAddr)
				if err != nil {
					return fmt.Errorf("decrypt: %w", err)
				}
				fmt.Println(addr)
				return nil
			}

			var pub [blind.KeySize]byte
			if err := decodeHexInto(bridgeBKeyHex, pub[:]); err != nil {
				return fmt.Errorf("bridge-b-key: %w", err)
			}
			blob, err := blind.Encrypt(pub, relayAddr)
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			fmt.Println(blob)
			return nil
		},
	}

	cmd.Flags().StringVar(&bridgeBKeyHex, "bridge-b-key", "", "Bridge B public key, hex-encoded (32 bytes)")
	cmd.Flags().StringVar(&relayAddr, "addr", "", "Relay address (host:port), or the blob to decrypt with --decrypt")
	cmd.Flags().BoolVar(&decrypt, "decrypt", false, "Decrypt instead of encrypt")
	cmd.Flags().StringVar(&bridgeBPrivHex, "bridge-b-priv", "", "Bridge B private key, hex-encoded (32 bytes), required with --decrypt")

	return cmd
}

func credentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the trust-tiered credential stored locally",
	}

	cmd.AddCommand(credentialOpenInviteCmd())
	cmd.AddCommand(credentialGetBridgeCmd())
	cmd.AddCommand(credentialMigrateCmd())
	cmd.AddCommand(credentialCheckBlockageCmd())
	cmd.AddCommand(credentialStatusCmd())

	return cmd
}

func newCredentialClient(configPath string) (*credential.Client, *config.ClientConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	store := credential.NewFileStore(cfg.TrustStorePath)
	return credential.NewClient(cfg.AuthorityURL, store, log), cfg, nil
}

func credentialOpenInviteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "open-invite",
		Short: "Request a fresh tier-0 credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newCredentialClient(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			cred, err := c.OpenInvite(ctx)
			if err != nil {
				return fmt.Errorf("open-invite: %w", err)
			}
			return printJSON(cred)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to client config file")
	return cmd
}

func credentialGetBridgeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "get-bridge",
		Short: "Exchange the stored credential for a bridge assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newCredentialClient(configPath)
			if err != nil {
				return err
			}
			cred, err := c.Load()
			if err != nil {
				return fmt.Errorf("load credential: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, info, err := c.GetBridge(ctx, cred)
			if err != nil {
				return fmt.Errorf("get-bridge: %w", err)
			}
			return printJSON(info)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to client config file")
	return cmd
}

func credentialMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Request trust-tier migration for the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newCredentialClient(configPath)
			if err != nil {
				return err
			}
			cred, err := c.Load()
			if err != nil {
				return fmt.Errorf("load credential: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			cred, err = c.TrustMigration(ctx, cred)
			if err != nil {
				return fmt.Errorf("trust-migration: %w", err)
			}
			return printJSON(cred)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to client config file")
	return cmd
}

func credentialCheckBlockageCmd() *cobra.Command {
	var configPath string
	var bridgeFingerprint string
	cmd := &cobra.Command{
		Use:   "check-blockage",
		Short: "Report the stored bridge assignment as blocked",
		Long: `Reports bridgeFingerprint as blocked to the authority, preserving
trust tier but clearing the stored bridge assignment so the next
get-bridge call picks a fresh one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newCredentialClient(configPath)
			if err != nil {
				return err
			}
			cred, err := c.Load()
			if err != nil {
				return fmt.Errorf("load credential: %w", err)
			}
			fp := bridgeFingerprint
			if fp == "" {
				fp = cred.BridgeFingerprint
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, result, err := c.CheckBlockage(ctx, cred, fp)
			if err != nil {
				return fmt.Errorf("check-blockage: %w", err)
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to client config file")
	cmd.Flags().StringVar(&bridgeFingerprint, "bridge-fingerprint", "", "Bridge fingerprint to report (defaults to the stored assignment)")
	return cmd
}

func credentialStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored credential and days until next migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newCredentialClient(configPath)
			if err != nil {
				return err
			}
			cred, err := c.Load()
			if err != nil {
				return fmt.Errorf("load credential: %w", err)
			}
			days := credential.DaysUntilMigration(cred, time.Now())

			fmt.Printf("Credential Status\n")
			fmt.Printf("=================\n")
			fmt.Printf("ID:               %s\n", cred.ID)
			fmt.Printf("Trust Tier:       %d\n", cred.TrustTier)
			fmt.Printf("Bridge URL:       %s\n", cred.BridgeURL)
			fmt.Printf("Created:          %s\n", cred.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Last Use:         %s\n", cred.LastUse.Format(time.RFC3339))
			if days > 1e9 {
				fmt.Printf("Next Migration:   already at top tier\n")
			} else {
				fmt.Printf("Next Migration:   %.1f days\n", days)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to client config file")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func decodeHexInto(s string, dst []byte) error {
	if len(s) != len(dst)*2 {
		return fmt.Errorf("expected %d hex characters, got %d", len(dst)*2, len(s))
	}
	n, err := hex.Decode(dst, []byte(s))
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("decoded %d bytes, want %d", n, len(dst))
	}
	return nil
}
