package devapi

import (
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/apigate/pkg/middleware"
)

// maxUploadSize はアップロードできるファイルの上限（バイト）。
const maxUploadSize = 32 << 20

// storedFile はアップロードされたファイル。
type storedFile struct {
	contentType string
	data        []byte
}

// fileStore はファイルをメモリ上に保持する。
type fileStore struct {
	mu    sync.RWMutex
	files map[string]storedFile
}

func newFileStore() *fileStore {
	return &fileStore{files: make(map[string]storedFile)}
}

func (s *fileStore) put(name string, f storedFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = f
}

func (s *fileStore) get(name string) (storedFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[name]
	return f, ok
}

// handleUploadFile はリクエストボディをファイルとして保存するハンドラを返す。
func (s *Server) handleUploadFile() gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadSize+1))
		if err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest, "ボディの読み取りに失敗しました")
			return
		}
		if len(data) > maxUploadSize {
			middleware.AbortWithError(c, http.StatusRequestEntityTooLarge, "ファイルが大きすぎます")
			return
		}
		if len(data) == 0 {
			middleware.AbortWithError(c, http.StatusUnprocessableEntity, "ファイルが空です")
			return
		}

		contentType := c.GetHeader("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		name := uuid.New().String()
		s.files.put(name, storedFile{contentType: contentType, data: data})

		c.JSON(http.StatusCreated, gin.H{
			"message": "Uploaded",
			"data": gin.H{
				"name":         name,
				"size":         len(data),
				"content_type": contentType,
			},
		})
	}
}

// handleDownloadFile は保存済みファイルを返すハンドラを返す。
func (s *Server) handleDownloadFile() gin.HandlerFunc {
	return func(c *gin.Context) {
		f, ok := s.files.get(c.Param("name"))
		if !ok {
			middleware.AbortWithError(c, http.StatusNotFound, "ファイルが見つかりません")
			return
		}
		c.Data(http.StatusOK, f.contentType, f.data)
	}
}

// parseStatus はパスパラメータのステータスコードを400〜599の範囲で解析する。
func parseStatus(c *gin.Context) (int, bool) {
	status, err := strconv.Atoi(c.Param("status"))
	if err != nil || status < 400 || status > 599 {
		middleware.AbortWithError(c, http.StatusBadRequest, "ステータスコードは400〜599で指定してください")
		return 0, false
	}
	return status, true
}

// handleFail は指定されたステータスで構造化エラーを返すハンドラを返す。
// messageクエリでメッセージを変更できる。
func (s *Server) handleFail() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, ok := parseStatus(c)
		if !ok {
			return
		}
		message := c.DefaultQuery("message", http.StatusText(status))
		middleware.AbortWithError(c, status, message)
	}
}

// handleFailPlain は指定されたステータスでテキストのエラーを返すハンドラを返す。
func (s *Server) handleFailPlain() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, ok := parseStatus(c)
		if !ok {
			return
		}
		c.String(status, "%d %s", status, http.StatusText(status))
	}
}

// maxSlowDelay は/slowで待機できる上限。
const maxSlowDelay = 30 * time.Second

// handleSlow はmsクエリで指定した時間だけ待ってから応答するハンドラを返す。
// クライアントが切断した場合は待機を中断する。
func (s *Server) handleSlow() gin.HandlerFunc {
	return func(c *gin.Context) {
		ms, err := strconv.Atoi(c.DefaultQuery("ms", "1000"))
		if err != nil || ms < 0 {
			middleware.AbortWithError(c, http.StatusBadRequest, "ms は0以上の整数で指定してください")
			return
		}
		ms = min(ms, int(maxSlowDelay/time.Millisecond))
		delay := time.Duration(ms) * time.Millisecond

		select {
		case <-time.After(delay):
			c.JSON(http.StatusOK, gin.H{"message": "Done", "delay_ms": delay.Milliseconds()})
		case <-c.Request.Context().Done():
			s.log.Debug("クライアントが切断しました")
		}
	}
}
