// Package middleware は開発用バックエンドで使用するGinミドルウェアを提供する。
//
// JWTトークンの発行と検証、リクエストログ、パニックリカバリ、CORS設定を含む。
// エラー応答は全て {"message": ..., "status": ...} 形式で返す。
package middleware
