package banner

import (
	"fmt"
)

const banner = `
███████╗███████╗███╗   ███╗██████╗ ██████╗
██╔════╝██╔════╝████╗ ████║██╔══██╗██╔══██╗
█████╗  ███████╗██╔████╔██║██████╔╝██║  ██║
██╔══╝  ╚════██║██║╚██╔╝██║██╔═══╝ ██║  ██║
███████╗███████║██║ ╚═╝ ██║██║     ██████╔╝
╚══════╝╚══════╝╚═╝     ╚═╝╚═╝     ╚═════╝
`

// Print shows startup info: listen addresses, storage path and whether
// at-rest encryption is active.
func Print(tcpAddr, httpAddr, dbPath string, encrypted bool, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("TCP:      %s\n", tcpAddr)
	fmt.Printf("HTTP:     %s\n", httpAddr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if encrypted {
		fmt.Println("At-rest:  AES-256-GCM (master key loaded)")
	} else {
		fmt.Println("At-rest:  DISABLED (no master key; private profile fields stored in clear)")
	}
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("TCP  newline-delimited JSON envelopes (signed)")
	fmt.Println("GET  /users/{pubkey}/profile        - View a profile (visibility filtered)")
	fmt.Println("PUT  /users/{pubkey}/profile        - Signed profile update")
	fmt.Println("GET  /groups/{id}                   - Group metadata")
	fmt.Println("PUT  /groups/{id}                   - Signed metadata update (admins)")
	fmt.Println("GET  /groups/{id}/messages          - Group thread log")
	fmt.Println("GET  /threads/messages?participant= - Direct thread log")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("echo '{\"type\":\"text\",...}' | nc localhost %s\n", portOf(tcpAddr))
	fmt.Printf("curl 'http://localhost%s/users/<pubkey>/profile'\n", httpAddr)
}

func portOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[i+1:]
		}
	}
	return addr
}
