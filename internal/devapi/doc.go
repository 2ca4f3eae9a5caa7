// Package devapi はゲートウェイの動作確認に使う開発用バックエンドを提供する。
//
// 開発用トークンの発行と更新、アイテムのCRUD、バイナリの送受信に加えて、
// 任意のステータスコードで構造化エラーまたはテキストエラーを返すエンドポイントを持つ。
// ゲートウェイが扱う全ての応答形式をここで再現できる。
// データは全てメモリ上に保持し、プロセス終了時に失われる。
package devapi
