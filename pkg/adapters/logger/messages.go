package logger

import "github.com/ideamans/go-l10n"

func init() {
	l10n.Register("ja", l10n.LexiconMap{
		// Orchestration level messages (info)
		"Compressing %s (%d bytes)":                       "%s を圧縮中 (%d バイト)",
		"Source %dx%d, %.2f s; output %dx%d, %d frames":   "入力 %dx%d, %.2f 秒; 出力 %dx%d, %d フレーム",
		"Encoded %d frames into %d samples":               "%d フレームを %d サンプルにエンコードしました",
		"Compressed to %d bytes in %s":                    "%d バイトに圧縮しました (%s)",
		"Output saved to %s":                              "出力を %s に保存しました",
		"Interrupted, shutting down...":                   "中断されました。シャットダウン中...",
		"Using %s encoder (ffmpeg: %s)":                   "%s エンコーダーを使用します (ffmpeg: %s)",
		"Metrics listening on %s":                         "メトリクスを %s で公開中",
		"Debug output enabled: %s":                        "デバッグ出力が有効です: %s",
		"Synthesizing %s test pattern":                    "%s のテストパターンを生成中",

		// Source stage
		"Opened media: %dx%d, %.3f s":                     "メディアを開きました: %dx%d, %.3f 秒",
		"Releasing media handle":                          "メディアハンドルを解放します",

		// Encode stage
		"Configured %s %dx%d at %d bps, %d fps, queue depth %d": "%s %dx%d を設定しました (%d bps, %d fps, キュー深さ %d)",
		"Flushing encoder with %d pending frames":         "保留中の %d フレームをフラッシュ中",
		"Flushed: %d frames submitted, %d chunks emitted": "フラッシュ完了: %d フレーム投入, %d チャンク出力",
		"Encoder merged %d frames":                        "エンコーダーが %d フレームを統合しました",
		"Encoder fault: %v":                               "エンコーダー障害: %v",
		"Closing encoder":                                 "エンコーダーを閉じます",

		// Mux stage
		"Created track %d: %s %dx%d, timescale %d":        "トラック %d を作成しました: %s %dx%d, タイムスケール %d",
		"Finalized %d samples, %d ms, %d bytes":           "%d サンプルを確定しました (%d ms, %d バイト)",

		// Warnings
		"Failed to save debug output: %s":                 "デバッグ出力の保存に失敗しました: %s",
		"Failed to write summary: %s":                     "サマリーの書き込みに失敗しました: %s",
		"Metrics server stopped: %s":                      "メトリクスサーバーが停止しました: %s",

		// Errors
		"Compression failed: %s":                          "圧縮に失敗しました: %s",
		"No accelerated video encoder available: %s":      "利用可能なビデオエンコーダーがありません: %s",
	})
}
