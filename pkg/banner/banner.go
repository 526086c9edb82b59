package banner

import (
	"fmt"
	"strings"

	"draftwire/pkg/config"
)

const banner = `
██████╗ ██████╗  █████╗ ███████╗████████╗██╗    ██╗██╗██████╗ ███████╗
██╔══██╗██╔══██╗██╔══██╗██╔════╝╚══██╔══╝██║    ██║██║██╔══██╗██╔════╝
██║  ██║██████╔╝███████║█████╗     ██║   ██║ █╗ ██║██║██████╔╝█████╗
██║  ██║██╔══██╗██╔══██║██╔══╝     ██║   ██║███╗██║██║██╔══██╗██╔══╝
██████╔╝██║  ██║██║  ██║██║        ██║   ╚███╔███╔╝██║██║  ██║███████╗
╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝        ╚═╝    ╚══╝╚══╝ ╚═╝╚═╝  ╚═╝╚══════╝
`

// PrintWithEff prints the banner and a summary of the effective config.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	if eff.Config != nil {
		fmt.Printf("History:  %s", eff.Config.StorageBackend())
		if eff.DBPath != "" {
			fmt.Printf(" (%s)", eff.DBPath)
		}
		fmt.Println()
		ret := eff.Config.Retention
		if ret.Enabled {
			cron := ret.Cron
			if cron == "" {
				cron = "*/5 * * * *"
			}
			fmt.Printf("Sweeper:  enabled (cron=%s)\n", cron)
		} else {
			fmt.Println("Sweeper:  disabled")
		}
		rl := eff.Config.Security.RateLimit
		if rl.RPS > 0 {
			fmt.Printf("Rate:     %.1f pkt/s burst %d\n", rl.RPS, rl.Burst)
		}
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET /updates/{user}                - websocket transport")
	fmt.Println("GET /v1/rooms/{a}/{b}/messages     - room history")
	fmt.Println("GET /healthz /readyz /metrics /docs")

	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		h := addr[:i]
		if h == "" || h == "0.0.0.0" || h == "::" {
			h = "localhost"
		}
		host = h + addr[i:]
	}
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("websocat 'ws://%s/updates/alice'\n", host)
	fmt.Printf("curl 'http://%s/v1/rooms/alice/bob/messages?limit=10'\n", host)

	fmt.Println("\n== Logs: =================================================")
}
