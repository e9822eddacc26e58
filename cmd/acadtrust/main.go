// Command acadtrust は学術信頼レベルAPIのサーバー・ワーカー・マイグレーションを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/acadtrust/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "acadtrust: %v\n", err)
		os.Exit(1)
	}
}
