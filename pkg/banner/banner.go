package banner

import (
	"fmt"

	"nostrgraph/pkg/config"
)

const banner = `
███╗   ██╗ ██████╗ ███████╗████████╗██████╗  ██████╗ ██████╗  █████╗ ██████╗ ██╗  ██╗
████╗  ██║██╔═══██╗██╔════╝╚══██╔══╝██╔══██╗██╔════╝ ██╔══██╗██╔══██╗██╔══██╗██║  ██║
██╔██╗ ██║██║   ██║███████╗   ██║   ██████╔╝██║  ███╗██████╔╝███████║██████╔╝███████║
██║╚██╗██║██║   ██║╚════██║   ██║   ██╔══██╗██║   ██║██╔══██╗██╔══██║██╔═══╝ ██╔══██║
██║ ╚████║╚██████╔╝███████║   ██║   ██║  ██║╚██████╔╝██║  ██║██║  ██║██║     ██║  ██║
╚═╝  ╚═══╝ ╚═════╝ ╚══════╝   ╚═╝   ╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝     ╚═╝  ╚═╝
`

// Print writes the startup banner with the effective runtime settings.
func Print(cfg *config.Config, sources string, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", cfg.Addr())
	fmt.Printf("Data dir:  %s\n", cfg.Storage.DataDir)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	if cfg.Relays.RegistryURL != "" {
		fmt.Printf("Registry:  %s\n", cfg.Relays.RegistryURL)
	}
	if n := len(cfg.Relays.Static); n > 0 {
		fmt.Printf("Static relays: %d\n", n)
	}
	fmt.Printf("Resume:    %v\n", cfg.Ingest.Resume)
	if cfg.Gateway.GlobalSubscriptions {
		fmt.Println("Global subscriptions: ENABLED")
	}
	if cfg.Gateway.ContinueSubscriptions {
		fmt.Println("Continue subscriptions: ENABLED")
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("WS   /            - Nostr subset: REQ, CLOSE, EVENT, COUNT")
	fmt.Println("GET  /p/{pubkey}  - Latest profile metadata event")
	fmt.Println("GET  /c/{pubkey}  - Latest contact list event")
	fmt.Println("GET  /r/{pubkey}  - Write relays")
	fmt.Println("GET  /i/{pubkey}  - Profile with ranked following")
	fmt.Println("GET  /f/{pubkey}  - Paginated followers")
	fmt.Println("GET  /search?q=   - Author name prefix search")
	fmt.Println("GET  /stats       - Index counts and recent request samples")
	fmt.Println("GET  /metrics     - Prometheus metrics")

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl 'http://<host>:<port>/search?q=jack'")
	fmt.Println("curl 'http://<host>:<port>/i/<pubkey-or-npub>'")

	fmt.Println("\n== Logs: =================================================")
}
