// Command weekplanner は週・日の目標管理サーバーを起動する。
//
// サブコマンド: serve（デフォルト）, worker, migrate, healthcheck
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/weekplanner/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "weekplanner: %v\n", err)
		os.Exit(1)
	}
}
