package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/clawlink/clawlink/internal/config"
	"github.com/clawlink/clawlink/internal/identity"
	"github.com/clawlink/clawlink/internal/keychain"
)

var initYes bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up the gateway connection and device identity",
	Long: `Interactive setup: gateway endpoint, access token, device identity.

The device identity is an Ed25519 keypair stored at ~/.clawlink/device.json.
Its fingerprint identifies this installation to the gateway; generate it
once and approve it on the gateway side.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "Accept defaults without prompting")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	gatewayURL := cfg.Gateway.URL
	role := cfg.Gateway.Role
	token := ""
	storeInKeychain := true

	if !initYes {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Gateway WebSocket URL").
					Value(&gatewayURL),
				huh.NewSelect[string]().
					Title("Role").
					Options(
						huh.NewOption("operator (full access)", "operator"),
						huh.NewOption("observer (read only)", "observer"),
					).
					Value(&role),
				huh.NewInput().
					Title("Gateway token (leave empty to reuse existing credentials)").
					EchoMode(huh.EchoModePassword).
					Value(&token),
				huh.NewConfirm().
					Title("Store the token in the system keychain?").
					Value(&storeInKeychain),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}
	}

	cfg.Gateway.URL = strings.TrimSpace(gatewayURL)
	cfg.Gateway.Role = role
	switch role {
	case "observer":
		cfg.Gateway.Scopes = []string{"operator.read"}
	default:
		cfg.Gateway.Scopes = []string{"operator.read", "operator.write"}
	}

	token = strings.TrimSpace(token)
	if token != "" {
		if storeInKeychain {
			if err := keychain.New().SetGatewayToken(token); err != nil {
				fmt.Fprintf(os.Stderr, "keychain unavailable (%v), writing token to config instead\n", err)
				cfg.Gateway.Token = token
			} else {
				cfg.Gateway.Token = ""
				fmt.Println("Token stored in the system keychain.")
			}
		} else {
			cfg.Gateway.Token = token
		}
	}

	// Device identity: generate once, keep forever.
	devicePath := cfg.Client.DevicePath
	if devicePath == "" {
		devicePath = identity.DefaultPath()
	}
	id, err := identity.Load(devicePath)
	switch {
	case err == nil:
		fmt.Printf("Device identity exists: %s\n", id.Fingerprint())
	case errors.Is(err, identity.ErrNoIdentity):
		id, err = identity.Generate(devicePath)
		if err != nil {
			return fmt.Errorf("generate device identity: %w", err)
		}
		fmt.Printf("Device identity generated: %s\n", id.Fingerprint())
		fmt.Println("Approve this fingerprint on the gateway to finish pairing.")
	default:
		return fmt.Errorf("read device identity: %w", err)
	}

	if err := config.Save(cfg); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", config.ConfigPath())
	fmt.Println("Run `clawlink chat` to start a session.")
	return nil
}
