package main

import (
	"flag"
	"fmt"
	"os"

	"skillhub/internal"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "presence server base URL")
	wsPath := flag.String("ws-path", "/ws", "websocket presence path")
	username := flag.String("user", "", "username (prompted when empty)")
	password := flag.String("pass", "", "password (prompted when empty)")
	signup := flag.Bool("signup", false, "create the account before logging in")
	flag.Parse()

	if *signup {
		if *username == "" || *password == "" {
			fmt.Fprintln(os.Stderr, "-signup requires -user and -pass")
			os.Exit(1)
		}
		if err := internal.Signup(*serverURL, *username, *password); err != nil {
			fmt.Fprintf(os.Stderr, "signup failed: %v\n", err)
			os.Exit(1)
		}
	}

	if err := internal.RunWatch(*serverURL, *wsPath, *username, *password); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
