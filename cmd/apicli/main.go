// apicliのエントリポイント。
// ゲートウェイを通じてAPIを呼び出し、通知とローディング表示を端末に出力する。
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/apigate/internal/cli"
	"github.com/nao1215/apigate/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("設定の読み込みに失敗: %v", err)
	}
	log := cfg.NewLogger()
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli.New(cfg, logrus.NewEntry(log), os.Stdout, os.Stderr).Run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
