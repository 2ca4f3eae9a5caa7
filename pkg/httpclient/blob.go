package httpclient

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// Blob はバイナリ応答。
type Blob struct {
	// Status はHTTPステータスコード。
	Status int
	// ContentType は応答のMIMEタイプ。
	ContentType string
	// Data は応答ボディ。
	Data []byte
	// message はJSON応答の場合のmessageフィールド。
	message string
}

// GetBlob はGETリクエストでバイナリを取得する。
// ctxのキャンセルはKindCanceledとして返し、通知は行わない。
func (c *Client) GetBlob(ctx context.Context, endpoint string, opts ...Option) (*Blob, error) {
	return c.DoBlob(ctx, newConfig(http.MethodGet, endpoint, nil, false, opts))
}

// PostBlob はPOSTリクエストでバイナリを送受信する。
// bodyに[]byteまたはio.Readerを渡した場合はそのまま送信する。
func (c *Client) PostBlob(ctx context.Context, endpoint string, body any, opts ...Option) (*Blob, error) {
	return c.DoBlob(ctx, newConfig(http.MethodPost, endpoint, body, true, opts))
}

// DoBlob はrcに従ってリクエストを送信し、バイナリ応答を返す。
func (c *Client) DoBlob(ctx context.Context, rc RequestConfig) (*Blob, error) {
	var out *Blob
	err := c.execute(ctx, rc, func(resp *http.Response) error {
		total := resp.ContentLength
		var r io.Reader = resp.Body
		if rc.Progress != nil {
			rc.Progress(0, total)
			r = &progressReader{r: resp.Body, total: total, fn: rc.Progress}
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
		}

		contentType := resp.Header.Get("Content-Type")
		out = &Blob{
			Status:      resp.StatusCode,
			ContentType: contentType,
			Data:        data,
		}
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "application/json" {
			out.message = extractMessage(data)
		}
		return nil
	}, func() string {
		return out.message
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// progressReader は読み取ったバイト数をProgressFuncに通知するio.Reader。
type progressReader struct {
	r     io.Reader
	done  int64
	total int64
	fn    ProgressFunc
}

// Read はrから読み取り、進捗を通知する。
func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}
	return n, err
}
