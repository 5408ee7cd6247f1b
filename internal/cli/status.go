package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawlink/clawlink/internal/bridge"
	"github.com/clawlink/clawlink/internal/bridge/protocol"
	"github.com/clawlink/clawlink/internal/config"
	httpiface "github.com/clawlink/clawlink/internal/interfaces/http"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and probe the gateway",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	fmt.Println("clawlink", version)
	fmt.Println()
	fmt.Printf("  Config:   %s\n", config.ConfigPath())
	fmt.Printf("  Gateway:  %s\n", cfg.Gateway.URL)
	fmt.Printf("  Role:     %s\n", cfg.Gateway.Role)

	if id := loadIdentity(cfg, discardLogger()); id != nil {
		fmt.Printf("  Device:   %s\n", id.Fingerprint())
	} else {
		fmt.Println("  Device:   (no identity, run `clawlink init`)")
	}

	if resolveToken(cfg) != "" {
		fmt.Println("  Token:    configured")
	} else {
		fmt.Println("  Token:    missing")
	}

	b, j := buildBridge(cfg, discardLogger())
	fmt.Printf("  Server:   %s\n", probeGateway(b, cfg.Gateway.ConnectTimeout()))
	b.Dispose()
	if j != nil {
		j.Close()
	}

	addr := cfg.Debug.Addr
	if addr == "" {
		addr = httpiface.DefaultAddr
	}
	fmt.Println()
	printLiveStatus(addr)
	return nil
}

// probeGateway performs one connect handshake and reports what the gateway
// answered. The caller disposes the bridge.
func probeGateway(b *bridge.Bridge, timeout time.Duration) string {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := b.Connect(ctx); err != nil {
		return "unreachable (" + err.Error() + ")"
	}
	return describeHello(b.Hello())
}

// describeHello renders the connect response for the status listing.
func describeHello(h protocol.HelloPayload) string {
	out := fmt.Sprintf("connected, protocol %d", h.Protocol)
	if h.Server.Version != "" {
		out += ", gateway v" + h.Server.Version
	}
	if h.Server.Host != "" {
		out += " on " + h.Server.Host
	}
	return out
}

// printLiveStatus asks a running bridge's debug server for its snapshot.
func printLiveStatus(addr string) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/api/status")
	if err != nil {
		fmt.Println("  Bridge:   not running")
		return
	}
	defer resp.Body.Close()

	var body struct {
		Uptime string `json:"uptime"`
		Bridge struct {
			State      string `json:"state"`
			SessionKey string `json:"sessionKey"`
			TurnActive bool   `json:"turnActive"`
			Emitted    int64  `json:"emitted"`
		} `json:"bridge"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Println("  Bridge:   unreachable")
		return
	}

	fmt.Printf("  Bridge:   %s (up %s)\n", body.Bridge.State, body.Uptime)
	if body.Bridge.SessionKey != "" {
		fmt.Printf("  Session:  %s\n", body.Bridge.SessionKey)
	}
	fmt.Printf("  Active:   %v\n", body.Bridge.TurnActive)
	fmt.Printf("  Messages: %d\n", body.Bridge.Emitted)
}
