package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"mailingest/backend/internal/app"
	"mailingest/backend/internal/config"
	"mailingest/backend/internal/credential"
)

// 一次性授权：打印授权链接，读取授权码，换取令牌并写入令牌存储
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	oauth, err := credential.LoadOAuthConfig(cfg.Gmail.ClientSecretFile, cfg.Gmail.Scopes...)
	if err != nil {
		fmt.Printf("Failed to load client secret: %v\n", err)
		os.Exit(1)
	}

	// 离线访问并强制重新同意，确保返回刷新令牌
	url := oauth.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("在浏览器中打开以下链接并授权:\n\n%s\n\n输入授权码: ", url)

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		fmt.Printf("Failed to read authorization code: %v\n", err)
		os.Exit(1)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		fmt.Println("授权码为空")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	token, err := oauth.Exchange(ctx, code)
	if err != nil {
		fmt.Printf("Failed to exchange code: %v\n", err)
		os.Exit(1)
	}
	if token.RefreshToken == "" {
		fmt.Println("警告: 未返回刷新令牌，令牌过期后需要重新授权")
	}

	store, closeStore, err := app.NewTokenStore(ctx, &cfg.Credential)
	if err != nil {
		fmt.Printf("Failed to open token store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	if err := store.Save(ctx, token); err != nil {
		fmt.Printf("Failed to save token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ 令牌已保存到 %s 存储\n", cfg.Credential.Backend)
}
