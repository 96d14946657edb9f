// Command diverterctl is a thin client that issues one IPC call per
// sub-command and prints the result.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"

	"diverter/internal/config"
	"diverter/internal/ipc"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	flags := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	socketPath := flags.String("socket", defaultSocketPath(), "unix socket path")
	jsonOut := flags.Bool("json", false, "print the raw decoded response")
	flags.Parse(os.Args[2:])

	command := os.Args[1]
	switch command {
	case "status", "start", "stop", "restart", "config", "firewall", "processes":
	default:
		usage()
		os.Exit(1)
	}

	resp, err := ipc.DialAndCall(*socketPath, ipc.Request{Command: command})
	if err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}

	if resp.Error != "" {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: "+resp.Error))
		os.Exit(1)
	}

	if *jsonOut {
		enc, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(enc))
		return
	}

	printHuman(command, resp)
}

func printHuman(command string, resp *ipc.Response) {
	switch command {
	case "start", "stop", "restart":
		fmt.Println(okStyle.Render(command + ": ok"))
	default:
		enc, _ := json.MarshalIndent(resp.Data, "", "  ")
		fmt.Println(dimStyle.Render(command+":"), string(enc))
	}
}

func defaultSocketPath() string {
	if v := os.Getenv("DIVERTER_SOCKET_PATH"); v != "" {
		return v
	}
	return config.DefaultSocketPath
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: diverterctl <status|start|stop|restart|config|firewall|processes> [--socket path] [--json]")
}
