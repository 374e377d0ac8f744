package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mailroute/backend/internal/config"
	"mailroute/backend/internal/logger"
	"mailroute/backend/internal/service"
	"mailroute/backend/internal/storage/hybrid"
)

func main() {
	// 解析命令行参数
	serverID := flag.String("server", "", "目标邮件服务器 ID")
	file := flag.String("file", "", "CSV 文件路径，包含 email address 与可选的 forward to 列")
	flag.Parse()

	if *serverID == "" || *file == "" {
		fmt.Println("用法:")
		fmt.Println("  go run cmd/import-routes/main.go -server=<server-id> -file=routes.csv")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("错误: 加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Type == "" {
		fmt.Println("错误: 导入需要持久化的路由表，请设置 MAILROUTE_DATABASE_TYPE")
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		fmt.Printf("错误: 初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := hybrid.Open(ctx, cfg, log)
	if err != nil {
		fmt.Printf("错误: 初始化存储失败: %v\n", err)
		os.Exit(1)
	}
	defer backends.Close()

	f, err := os.Open(*file)
	if err != nil {
		fmt.Printf("错误: 无法打开文件: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	routes := service.NewRouteService(backends.Store, cfg.Routing.RouteDomain, logger.Named(log, "route"), nil)
	importer := service.NewRouteImporter(routes, backends.Store, logger.Named(log, "import"), nil)

	result, err := importer.Import(ctx, *serverID, f)
	if result != nil {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	}
	if err != nil {
		fmt.Printf("错误: 导入中断: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ 导入完成: 成功 %d, 跳过 %d, 失败 %d\n", result.Imported, result.Skipped, result.Failed)
}
