// Package loading は通信中であることを示すローディング表示の参照カウンタを提供する。
//
// 複数のリクエストが同時に実行されても、最後のリクエストが完了するまで
// 表示を維持する。カウンタはゲートウェイに注入して共有する。
package loading
