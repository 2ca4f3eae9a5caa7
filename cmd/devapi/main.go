// 開発用バックエンドのエントリポイント。
// トークン発行・更新と、ゲートウェイの動作確認用のAPIを提供する。
package main

import (
	"github.com/sirupsen/logrus"

	"github.com/nao1215/apigate/internal/config"
	"github.com/nao1215/apigate/internal/devapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("設定の読み込みに失敗: %v", err)
	}
	log := cfg.NewLogger()

	server := devapi.NewServer(cfg, logrus.NewEntry(log).WithField("service", "devapi"))

	log.Infof("開発用バックエンドを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("開発用バックエンドの起動に失敗: %v", err)
	}
}
