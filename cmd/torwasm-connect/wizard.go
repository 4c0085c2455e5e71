package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/tor-wasm/transportcore/internal/config"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))

func wizardCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Interactive bridge configuration wizard",
		Long: `Walk through configuring a bridge: the WebSocket URL every bridge
needs, and optionally Bridge B blinding, WebTunnel, Meek and
peer-relayed fallback transports. Writes the result as a client
config YAML file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runWizard()
			if err != nil {
				return fmt.Errorf("wizard: %w", err)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			if err := os.WriteFile(outputPath, data, 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			fmt.Println(headerStyle.Render("Configuration saved"))
			fmt.Printf("Wrote %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "config.yaml", "Path to write the generated config")
	return cmd
}

// runWizard collects a ClientConfig through a sequence of huh forms,
// one group per optional transport so a skipped transport leaves its
// fields at the zero value.
func runWizard() (*config.ClientConfig, error) {
	fmt.Println(headerStyle.Render("tor-wasm bridge configuration"))
	fmt.Println("Press enter to accept a default, or leave a field blank to skip an optional transport.")
	fmt.Println()

	var bridgeURL, authorityURL, trustStorePath, logLevel string
	trustStorePath = "trust-store.json"
	logLevel = "info"

	basics := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bridge WebSocket URL").
				Placeholder("wss://bridge.example.org/ws").
				Value(&bridgeURL).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("a bridge URL is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Credential authority URL").
				Placeholder("https://authority.example.org").
				Value(&authorityURL),
			huh.NewInput().
				Title("Trust store path").
				Value(&trustStorePath),
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("info", "info"),
					huh.NewOption("debug", "debug"),
					huh.NewOption("warn", "warn"),
					huh.NewOption("error", "error"),
				).
				Value(&logLevel),
		),
	)
	if err := basics.Run(); err != nil {
		return nil, err
	}

	var wantBlind bool
	var bridgeBKeyHex string
	blindForm := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Configure Bridge B blinding?").
				Value(&wantBlind),
		),
	)
	if err := blindForm.Run(); err != nil {
		return nil, err
	}
	if wantBlind {
		key, err := readHiddenHexKey("Bridge B public key (hex, 64 chars)", 64)
		if err != nil {
			return nil, err
		}
		bridgeBKeyHex = key
	}

	var wantWebTunnel bool
	var webTunnelHost, webTunnelSecret string
	if err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title("Configure WebTunnel fallback?").Value(&wantWebTunnel),
	)).Run(); err != nil {
		return nil, err
	}
	if wantWebTunnel {
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("WebTunnel cover host").Placeholder("wss://cover.example.org/ws").Value(&webTunnelHost),
			huh.NewInput().Title("WebTunnel secret path").Value(&webTunnelSecret),
		)).Run(); err != nil {
			return nil, err
		}
	}

	var wantMeek bool
	var cdnURL string
	if err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title("Configure Meek (CDN) fallback?").Value(&wantMeek),
	)).Run(); err != nil {
		return nil, err
	}
	if wantMeek {
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Meek CDN URL").Placeholder("https://cdn.example.org/meek").Value(&cdnURL),
		)).Run(); err != nil {
			return nil, err
		}
	}

	var wantPeer bool
	var brokerURL, stunServersRaw string
	var preferPeer bool
	if err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title("Configure peer-relayed (WebRTC) fallback?").Value(&wantPeer),
	)).Run(); err != nil {
		return nil, err
	}
	if wantPeer {
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Broker WebSocket URL").Placeholder("wss://broker.example.org/ws").Value(&brokerURL),
			huh.NewInput().Title("STUN servers (comma-separated)").Placeholder("stun:stun.l.google.com:19302").Value(&stunServersRaw),
			huh.NewConfirm().Title("Prefer peer-relayed over other transports?").Value(&preferPeer),
		)).Run(); err != nil {
			return nil, err
		}
	}

	bridge := config.BridgeConfig{
		BridgeURL:           bridgeURL,
		BridgeBKeyHex:       bridgeBKeyHex,
		WebTunnelCoverHost:  webTunnelHost,
		WebTunnelSecretPath: webTunnelSecret,
		CDNURL:              cdnURL,
		BrokerURL:           brokerURL,
		PreferPeer:          preferPeer,
	}
	if stunServersRaw != "" {
		for _, s := range strings.Split(stunServersRaw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				bridge.STUNServers = append(bridge.STUNServers, s)
			}
		}
	}

	return &config.ClientConfig{
		Bridge:         bridge,
		AuthorityURL:   authorityURL,
		TrustStorePath: trustStorePath,
		LogLevel:       logLevel,
		LogFormat:      "text",
	}, nil
}

// readHiddenHexKey reads a hex-encoded key from the terminal without
// echoing it. The Bridge B key is technically public, but knowing a
// client configured one at all reveals it uses blinding, so the wizard
// keeps entry off the scrollback the way a password would be.
func readHiddenHexKey(prompt string, wantLen int) (string, error) {
	fmt.Printf("%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read hidden input: %w", err)
	}
	s := strings.TrimSpace(string(b))
	if len(s) != wantLen {
		return "", fmt.Errorf("expected %d hex characters, got %d", wantLen, len(s))
	}
	if _, err := strconv.ParseUint(s[:2], 16, 8); err != nil {
		return "", fmt.Errorf("not valid hex: %w", err)
	}
	return s, nil
}
