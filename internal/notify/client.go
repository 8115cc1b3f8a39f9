// Package notify は登録された通知先へのプッシュ通知の送信を提供する。
// 通知先URLへJSONをPOSTし、ステータスコードに応じて結果を分類する。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Message は通知の内容。
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ReminderMessage は日次リマインダーの通知内容。
var ReminderMessage = Message{
	Title: "Daily check",
	Body:  "Did you complete today's goals?",
}

// Result はHTTPステータスコードに基づく送信結果の分類。
type Result string

const (
	// ResultSent は送信成功（2xx）。
	ResultSent Result = "sent"
	// ResultGone は通知先が失効している（404/410）。通知先を削除する。
	ResultGone Result = "gone"
	// ResultRetryable は一時的な失敗（429/5xx、通信エラー）。
	ResultRetryable Result = "retryable"
	// ResultFailed はその他の失敗。
	ResultFailed Result = "failed"
)

// ClassifyHTTPStatus はHTTPステータスコードを送信結果に分類する。
func ClassifyHTTPStatus(statusCode int) Result {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return ResultSent
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return ResultGone
	case statusCode == http.StatusTooManyRequests:
		return ResultRetryable
	case statusCode >= 500:
		return ResultRetryable
	default:
		return ResultFailed
	}
}

// maxErrorBody はエラー時にログへ残すレスポンスボディの最大バイト数。
const maxErrorBody = 512

// Client は通知先へのHTTPクライアント。
// 本番ではSSRF防止機能付きのhttp.Clientを渡す。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		userAgent:  "WeekPlanner/1.0 Reminder",
	}
}

// Send は通知先に1件の通知を送信する。
// 通信エラーの場合はResultRetryableとエラーを返す。
func (c *Client) Send(ctx context.Context, endpoint string, msg Message) (Result, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return ResultFailed, fmt.Errorf("通知のエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return ResultFailed, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ResultRetryable, fmt.Errorf("通知先への接続に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	result := ClassifyHTTPStatus(resp.StatusCode)
	if result != ResultSent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("通知先がエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("result", string(result)),
			slog.String("body", string(body)),
		)
		return result, fmt.Errorf("通知先がステータス %d を返しました", resp.StatusCode)
	}

	// 接続を再利用できるようにボディを読み捨てる
	_, _ = io.Copy(io.Discard, resp.Body)
	return ResultSent, nil
}
