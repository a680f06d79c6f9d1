package main

import (
	"github.com/ideamans/go-l10n"
)

func init() {
	// Register Japanese translations for CLI messages.
	l10n.Register("ja", l10n.LexiconMap{
		// Flag categories
		"Output":   "出力先",
		"Encoding": "エンコード設定",
		"Tools":    "ツール",
		"Debug":    "デバッグ",
		"Logging":  "ログ",

		// Commands
		"Downscale and re-encode videos to H.264 MP4":    "動画を縮小してH.264 MP4に再エンコード",
		"Compress a video file to MP4":                   "動画ファイルをMP4に圧縮",
		"Compress a synthetic test pattern":              "合成テストパターンを圧縮",
		"Report the available H.264 encoder":             "利用可能なH.264エンコーダーを表示",
		"Print video track information of an MP4 file":   "MP4ファイルの映像トラック情報を表示",
		"Input file argument is required":                "入力ファイル引数が必要です",

		// Flags
		"Output MP4 file path":                                   "出力MP4ファイルパス",
		"Output execution summary to file (Markdown format)":     "実行サマリーをファイルに出力（Markdown形式）",
		"YAML configuration file":                                "YAML設定ファイル",
		"Target width in pixels (default: 720)":                  "出力幅（ピクセル、デフォルト: 720）",
		"Target bitrate in bits per second":                      "目標ビットレート（bps）",
		"Frames sampled per second":                              "1秒あたりのサンプリングフレーム数",
		"H.264 codec string (e.g., avc1.42001E)":                 "H.264コーデック文字列（例: avc1.42001E）",
		"Scaling filter (catmullrom, bilinear, lanczos)":         "縮小フィルター（catmullrom, bilinear, lanczos）",
		"Frames between key frames":                              "キーフレーム間隔（フレーム数）",
		"Path to ffmpeg executable":                              "ffmpeg実行ファイルのパス",
		"Skip hardware encoders":                                 "ハードウェアエンコーダーを使用しない",
		"Enable debug output":                                    "デバッグ出力を有効化",
		"Directory for debug output":                             "デバッグ出力のディレクトリ",
		"Serve Prometheus metrics on this address (e.g., :9090)": "Prometheusメトリクスを公開するアドレス（例: :9090）",
		"Log level (debug, info, warn, error)":                   "ログレベル（debug, info, warn, error）",
		"Suppress all log output":                                "全てのログ出力を抑制",
		"Test pattern size and duration (WxH@duration)":          "テストパターンのサイズと長さ（WxH@長さ）",

		// Probe output
		"hardware": "ハードウェア",
		"software": "ソフトウェア",

		// Progress stages
		"initializing": "初期化中",
		"compressing":  "圧縮中",
		"finalizing":   "仕上げ中",
		"completed":    "完了",

		// Runtime messages
		"Summary saved to %s": "サマリーを %s に保存しました",

		// Summary content
		"Compression Summary": "圧縮サマリー",
		"Input":               "入力",
		"Settings":            "設定",
		"File":                "ファイル",
		"Size":                "サイズ",
		"Resolution":          "解像度",
		"Duration":            "再生時間",
		"Frames":              "フレーム数",
		"Samples":             "サンプル数",
		"Compression Ratio":   "圧縮率",
		"Codec":               "コーデック",
		"Encoder":             "エンコーダー",
		"Bitrate":             "ビットレート",
		"Frame Rate":          "フレームレート",
		"Target Width":        "出力幅",
		"Filter":              "フィルター",
		"Key Frame Interval":  "キーフレーム間隔",
		"Generated at":        "生成日時",
		"elapsed":             "所要時間",
	})
}
