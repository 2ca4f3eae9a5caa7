package devapi

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/apigate/pkg/middleware"
)

// item はアイテムのJSON表現。
type item struct {
	// ID はアイテムの一意識別子。
	ID string `json:"id"`
	// Name はアイテム名。
	Name string `json:"name"`
	// Description はアイテムの説明。
	Description string `json:"description"`
	// Owner は作成した主体。
	Owner string `json:"owner"`
	// CreatedAt は作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は更新日時（RFC3339形式）。
	UpdatedAt string `json:"updated_at"`
}

// itemStore はアイテムをメモリ上に保持する。
type itemStore struct {
	mu    sync.RWMutex
	items map[string]item
}

func newItemStore() *itemStore {
	return &itemStore{items: make(map[string]item)}
}

// list は作成日時順のアイテム一覧を返す。
func (s *itemStore) list() []item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b item) int {
		if c := strings.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (s *itemStore) get(id string) (item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	return it, ok
}

func (s *itemStore) put(it item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = it
}

// update はidのアイテムにfnを適用する。存在しない場合はfalseを返す。
func (s *itemStore) update(id string, fn func(*item)) (item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return item{}, false
	}
	fn(&it)
	it.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	s.items[id] = it
	return it, true
}

func (s *itemStore) delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

// itemRequest はアイテム作成・置換のリクエストボディ。
type itemRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// handleListItems はアイテム一覧を返すハンドラを返す。
func (s *Server) handleListItems() gin.HandlerFunc {
	return func(c *gin.Context) {
		items := s.items.list()
		if q := c.Query("q"); q != "" {
			items = slices.DeleteFunc(items, func(it item) bool {
				return !strings.Contains(it.Name, q)
			})
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
	}
}

// handleGetItem は1件のアイテムを返すハンドラを返す。
func (s *Server) handleGetItem() gin.HandlerFunc {
	return func(c *gin.Context) {
		it, ok := s.items.get(c.Param("id"))
		if !ok {
			middleware.AbortWithError(c, http.StatusNotFound, "アイテムが見つかりません")
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": it})
	}
}

// handleCreateItem はアイテムを作成するハンドラを返す。
func (s *Server) handleCreateItem() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req itemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithError(c, http.StatusUnprocessableEntity, "name は必須です")
			return
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		it := item{
			ID:          uuid.New().String(),
			Name:        req.Name,
			Description: req.Description,
			Owner:       middleware.GetSubject(c),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.items.put(it)

		c.JSON(http.StatusCreated, gin.H{"message": "Created", "data": it})
	}
}

// handleReplaceItem はアイテムを置き換えるハンドラを返す。
func (s *Server) handleReplaceItem() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req itemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithError(c, http.StatusUnprocessableEntity, "name は必須です")
			return
		}

		it, ok := s.items.update(c.Param("id"), func(it *item) {
			it.Name = req.Name
			it.Description = req.Description
		})
		if !ok {
			middleware.AbortWithError(c, http.StatusNotFound, "アイテムが見つかりません")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Updated", "data": it})
	}
}

// handleUpdateItem は指定されたフィールドのみ更新するハンドラを返す。
func (s *Server) handleUpdateItem() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name        *string `json:"name"`
			Description *string `json:"description"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest, "リクエストボディが不正です")
			return
		}
		if req.Name != nil && *req.Name == "" {
			middleware.AbortWithError(c, http.StatusUnprocessableEntity, "name は空にできません")
			return
		}

		it, ok := s.items.update(c.Param("id"), func(it *item) {
			if req.Name != nil {
				it.Name = *req.Name
			}
			if req.Description != nil {
				it.Description = *req.Description
			}
		})
		if !ok {
			middleware.AbortWithError(c, http.StatusNotFound, "アイテムが見つかりません")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Updated", "data": it})
	}
}

// handleDeleteItem はアイテムを削除するハンドラを返す。
func (s *Server) handleDeleteItem() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.items.delete(c.Param("id")) {
			middleware.AbortWithError(c, http.StatusNotFound, "アイテムが見つかりません")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Deleted"})
	}
}
