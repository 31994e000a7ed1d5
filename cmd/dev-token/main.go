package main

import (
	"fmt"
	"os"

	jwtpkg "leomail/backend/internal/auth/jwt"
	"leomail/backend/internal/config"
)

// main 为本地调试签发访问令牌
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: dev-token <user-id> [email] [name]")
		os.Exit(1)
	}

	userID := os.Args[1]
	var email, name string
	if len(os.Args) >= 3 {
		email = os.Args[2]
	}
	if len(os.Args) >= 4 {
		name = os.Args[3]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	token, err := jwtpkg.NewManager(cfg.JWT).Issue(userID, email, name)
	if err != nil {
		fmt.Printf("Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "\nNote: token expires in %s. Use it as 'Authorization: Bearer <token>' or ?token= for /v1/ws.\n", cfg.JWT.AccessExpiry)
}
