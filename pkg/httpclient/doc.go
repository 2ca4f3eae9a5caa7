// Package httpclient はAPI呼び出しの共通処理をまとめたHTTPクライアントを提供する。
//
// 全てのリクエストに対して、認証ヘッダーの付与とトークン更新、
// ローディング表示の参照カウント、成功・エラーの通知、
// エラー応答の正規化を同じ手順で適用する。
//
// 失敗は必ず *RequestError として返り、Kind で分類される。
// 401応答はセッション切れとして保存済みトークンを削除し、再ログイン先へ誘導する。
// この場合と通信断・キャンセルでは通知を行わず、RequestError.Show は false になる。
//
// 成功応答の Payload にはサーバーが返したボディをそのまま保持する。
// message フィールドも Payload に残り、Response.Message からも参照できる。
package httpclient
