// Package session はアクセストークンの保管と、セッションの更新・終了を提供する。
//
// TokenStoreはトークンの永続化先（メモリ、SQLite、Redis）を抽象化する。
// Controllerはトークンの残り有効期間を確認し、必要に応じて更新する。
// 認証プロトコルそのものはRefresherの実装に委譲する。
package session
