package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"mailingest/backend/internal/auth"
	"mailingest/backend/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: issue-token <operator> [scope,scope...]")
		fmt.Printf("  可用权限: %s, %s\n", auth.ScopeIngest, auth.ScopeRaw)
		os.Exit(1)
	}

	operator := os.Args[1]
	var scopes []string
	if len(os.Args) >= 3 {
		for _, s := range strings.Split(os.Args[2], ",") {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	manager, err := auth.NewJWTManager(&cfg.Auth)
	if errors.Is(err, auth.ErrDisabled) {
		fmt.Println("auth.secret 未配置，手动接口处于关闭状态")
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Failed to init token manager: %v\n", err)
		os.Exit(1)
	}

	token, err := manager.IssueToken(operator, scopes...)
	if err != nil {
		fmt.Printf("Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ 令牌已签发\n")
	fmt.Printf("  Operator: %s\n", operator)
	fmt.Printf("  Expires:  %s\n", token.ExpiresAt)
	fmt.Printf("\n%s\n", token.AccessToken)
}
