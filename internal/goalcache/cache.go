// Package goalcache はスコープキー（週キー・日キー）ごとに目標を保持する
// インメモリキャッシュを提供する。
//
// キャッシュは同期エンジンからのみ書き込まれ、表示層からは読み取り専用で参照される。
// 以下の不変条件を常に維持する:
//   - あるIDの目標は高々1つのバケットにだけ存在し、そのバケットは目標のScopeKeyと一致する
//   - 同じバケット内に同じIDのエントリが2つ存在しない
package goalcache

import (
	"sort"
	"sync"

	"github.com/hitoshi/weekplanner/internal/model"
)

// Cache は1種別（週目標または日目標）の目標をスコープキーごとに保持する。
// IDは種別ごとにしか一意でないため、種別ごとに別インスタンスを使う。
type Cache struct {
	mu      sync.RWMutex
	buckets map[string][]model.Goal
	index   map[int64]string // ID -> 所属バケットのスコープキー
}

// New は空のCacheを生成する。
func New() *Cache {
	return &Cache{
		buckets: make(map[string][]model.Goal),
		index:   make(map[int64]string),
	}
}

// Get はバケットの目標一覧のコピーを返す。バケットがない場合は空スライスを返す。
func (c *Cache) Get(scopeKey string) []model.Goal {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bucket := c.buckets[scopeKey]
	out := make([]model.Goal, len(bucket))
	copy(out, bucket)
	return out
}

// Has はバケットが一度でも読み込まれているかを返す。
func (c *Cache) Has(scopeKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.buckets[scopeKey]
	return ok
}

// FindByID は指定IDの目標をどのバケットからでも検索する。
func (c *Cache) FindByID(id int64) (model.Goal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key, ok := c.index[id]
	if !ok {
		return model.Goal{}, false
	}
	i := indexOf(c.buckets[key], id)
	if i < 0 {
		return model.Goal{}, false
	}
	return c.buckets[key][i], true
}

// ReplaceBucket はバケット全体を置き換える。全件取得の結果を反映するときに使う。
// 入力に同じIDが複数含まれる場合は最初の位置に最後の値を残す。冪等。
func (c *Cache) ReplaceBucket(scopeKey string, goals []model.Goal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, g := range c.buckets[scopeKey] {
		delete(c.index, g.ID)
	}

	bucket := make([]model.Goal, 0, len(goals))
	pos := make(map[int64]int, len(goals))
	for _, g := range goals {
		g.ScopeKey = scopeKey
		if i, ok := pos[g.ID]; ok {
			bucket[i] = g
			continue
		}
		// 他のバケットに残っている同じIDは取り除く
		if old, ok := c.index[g.ID]; ok && old != scopeKey {
			c.removeLocked(old, g.ID)
		}
		pos[g.ID] = len(bucket)
		bucket = append(bucket, g)
		c.index[g.ID] = scopeKey
	}
	c.buckets[scopeKey] = bucket
}

// Upsert は目標のScopeKeyのバケットに目標を挿入する。
// 同じIDが既にあれば位置を保ったまま置き換える。別のバケットにあれば移動する。
// 内容が同一の場合は何もしない。キャッシュが変化した場合にtrueを返す。
func (c *Cache) Upsert(g model.Goal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.index[g.ID]; ok {
		if old == g.ScopeKey {
			bucket := c.buckets[old]
			i := indexOf(bucket, g.ID)
			if i >= 0 {
				if bucket[i].SameContent(g) {
					return false
				}
				bucket[i] = g
				return true
			}
		} else {
			c.removeLocked(old, g.ID)
		}
	}

	c.buckets[g.ScopeKey] = append(c.buckets[g.ScopeKey], g)
	c.index[g.ID] = g.ScopeKey
	return true
}

// Remove はバケットから指定IDの目標を取り除く。存在しない場合は何もしない。
func (c *Cache) Remove(scopeKey string, id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(scopeKey, id)
}

// RemoveByID は指定IDの目標を、それを保持しているバケットから取り除く。
// 削除通知にスコープキーが含まれない場合に使う。冪等。
func (c *Cache) RemoveByID(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.index[id]
	if !ok {
		return false
	}
	return c.removeLocked(key, id)
}

// ScopeKeyOf は指定IDの目標が所属するスコープキーを返す。
func (c *Cache) ScopeKeyOf(id int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.index[id]
	return key, ok
}

// Buckets は読み込み済みのスコープキーを昇順で返す。
func (c *Cache) Buckets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.buckets))
	for k := range c.buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len はキャッシュ全体の目標数を返す。
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Reset は全てのバケットを破棄する。
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets = make(map[string][]model.Goal)
	c.index = make(map[int64]string)
}

func (c *Cache) removeLocked(scopeKey string, id int64) bool {
	bucket := c.buckets[scopeKey]
	i := indexOf(bucket, id)
	if i < 0 {
		return false
	}
	c.buckets[scopeKey] = append(bucket[:i:i], bucket[i+1:]...)
	if c.index[id] == scopeKey {
		delete(c.index, id)
	}
	return true
}

func indexOf(bucket []model.Goal, id int64) int {
	for i := range bucket {
		if bucket[i].ID == id {
			return i
		}
	}
	return -1
}
